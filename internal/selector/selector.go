// Package selector picks profiles whose classification should be
// refreshed. It is a pure read over store state; the analyzer decides
// nothing about staleness and the selector triggers nothing itself.
package selector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/config"
	"github.com/finscope/profiler-cli/internal/freshness"
	"github.com/finscope/profiler-cli/internal/store"
)

// Reason says why a profile qualifies for (re-)analysis.
type Reason string

const (
	ReasonNeverAnalyzed Reason = "never-analyzed"
	ReasonLowConfidence Reason = "low-confidence"
	ReasonStaleAnalysis Reason = "stale-analysis"
)

// Candidate is one profile due for analysis.
type Candidate struct {
	FacebookID string `json:"facebook_id"`
	Reason     Reason `json:"reason"`
}

// CandidateReader is the store subset the selector consults.
type CandidateReader interface {
	ListCandidates(ctx context.Context, limit int) ([]store.CandidateRow, error)
}

// Selector applies the re-analysis predicate over candidate rows.
type Selector struct {
	store CandidateReader
	cfg   config.AnalysisConfig
	now   func() time.Time
}

// New creates a Selector.
func New(st CandidateReader, cfg config.AnalysisConfig) *Selector {
	return &Selector{store: st, cfg: cfg, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// qualify decides whether one candidate row is due and why.
func (s *Selector) qualify(row store.CandidateRow, now time.Time) (Reason, bool) {
	if !row.HasContent {
		return "", false
	}
	if row.AnalyzedAt == nil {
		return ReasonNeverAnalyzed, true
	}
	if row.Confidence != nil && *row.Confidence < s.cfg.ConfidenceThreshold {
		return ReasonLowConfidence, true
	}
	// An aged analysis only requalifies once the profile has been
	// re-fetched since it was written; without new material the model
	// would just be re-reading the same snapshot.
	if freshness.Stale(*row.AnalyzedAt, false, s.cfg.ReanalyzeInterval(), now) &&
		row.LastFetched.After(*row.AnalyzedAt) {
		return ReasonStaleAnalysis, true
	}
	return "", false
}

// Select returns up to limit profiles due for analysis, never-analyzed
// profiles first, then by oldest qualifying analysis. The store already
// yields rows in that order; the predicate only filters.
func (s *Selector) Select(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.store.ListCandidates(ctx, 0)
	if err != nil {
		return nil, eris.Wrap(err, "selector: list candidates")
	}

	now := s.now()
	var out []Candidate
	for _, row := range rows {
		reason, ok := s.qualify(row, now)
		if !ok {
			continue
		}
		out = append(out, Candidate{FacebookID: row.FacebookID, Reason: reason})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
