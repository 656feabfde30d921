package store

import (
	"context"
	"time"

	"github.com/finscope/profiler-cli/internal/model"
)

// ProfileFilter specifies criteria for listing profiles.
type ProfileFilter struct {
	AccountID string `json:"account_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CandidateRow is the joined view the re-analysis selector reads: one row
// per profile carrying its latest analysis, if any.
type CandidateRow struct {
	FacebookID  string
	LastFetched time.Time
	HasContent  bool
	AnalyzedAt  *time.Time // nil when the profile has no analysis
	Confidence  *float64
}

// Store defines the persistence interface for the fetch/analyze pipeline.
//
// Profiles are upserts keyed by facebook_id (last-writer-wins, last_fetched
// never moves backwards); analyses are append-only history. Both must be
// safe under concurrent background writers.
type Store interface {
	// Profiles
	UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error)
	GetProfile(ctx context.Context, facebookID string) (*model.Profile, error)
	GetProfiles(ctx context.Context, facebookIDs []string) ([]model.Profile, error)
	ListRecentProfiles(ctx context.Context, filter ProfileFilter) ([]model.Profile, error)

	// Analyses
	AppendAnalysis(ctx context.Context, a *model.Analysis) (*model.Analysis, error)
	LatestAnalysis(ctx context.Context, facebookID string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, facebookID string) ([]model.Analysis, error)
	ListRecentAnalyses(ctx context.Context, limit int) ([]model.Analysis, error)
	AnalysisStats(ctx context.Context) (*model.AnalysisStats, error)

	// Re-analysis selection support
	ListCandidates(ctx context.Context, limit int) ([]CandidateRow, error)

	// Source accounts
	GetAccount(ctx context.Context, id string) (*model.SourceAccount, error)
	SaveAccount(ctx context.Context, a *model.SourceAccount) error
	ListAccounts(ctx context.Context) ([]model.SourceAccount, error)
	TouchAccount(ctx context.Context, id string, usedAt time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
