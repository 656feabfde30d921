package pacer

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/internal/store"
	"github.com/finscope/profiler-cli/pkg/profilegate"
)

// --- Store mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockStore) GetProfile(ctx context.Context, facebookID string) (*model.Profile, error) {
	args := m.Called(ctx, facebookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockStore) GetProfiles(ctx context.Context, facebookIDs []string) ([]model.Profile, error) {
	args := m.Called(ctx, facebookIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Profile), args.Error(1)
}

func (m *mockStore) ListRecentProfiles(ctx context.Context, filter store.ProfileFilter) ([]model.Profile, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Profile), args.Error(1)
}

func (m *mockStore) AppendAnalysis(ctx context.Context, a *model.Analysis) (*model.Analysis, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Analysis), args.Error(1)
}

func (m *mockStore) LatestAnalysis(ctx context.Context, facebookID string) (*model.Analysis, error) {
	args := m.Called(ctx, facebookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Analysis), args.Error(1)
}

func (m *mockStore) ListAnalyses(ctx context.Context, facebookID string) ([]model.Analysis, error) {
	args := m.Called(ctx, facebookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Analysis), args.Error(1)
}

func (m *mockStore) ListRecentAnalyses(ctx context.Context, limit int) ([]model.Analysis, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Analysis), args.Error(1)
}

func (m *mockStore) AnalysisStats(ctx context.Context) (*model.AnalysisStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisStats), args.Error(1)
}

func (m *mockStore) ListCandidates(ctx context.Context, limit int) ([]store.CandidateRow, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.CandidateRow), args.Error(1)
}

func (m *mockStore) GetAccount(ctx context.Context, id string) (*model.SourceAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SourceAccount), args.Error(1)
}

func (m *mockStore) SaveAccount(ctx context.Context, a *model.SourceAccount) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *mockStore) ListAccounts(ctx context.Context) ([]model.SourceAccount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SourceAccount), args.Error(1)
}

func (m *mockStore) TouchAccount(ctx context.Context, id string, usedAt time.Time) error {
	args := m.Called(ctx, id, usedAt)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Gate stub ---

// stubGate runs a caller-supplied function per fetch, which lets tests
// inject failures and observe call timing.
type stubGate struct {
	fn func(ctx context.Context, url string, creds profilegate.Credentials) (*profilegate.ProfileData, error)
}

func (g *stubGate) Fetch(ctx context.Context, url string, creds profilegate.Credentials) (*profilegate.ProfileData, error) {
	return g.fn(ctx, url, creds)
}

// Interface guards.
var (
	_ store.Store        = (*mockStore)(nil)
	_ profilegate.Client = (*stubGate)(nil)
)
