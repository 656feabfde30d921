package analyzer

import (
	"context"
	"sync"
	"time"

	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/internal/store"
	"github.com/finscope/profiler-cli/pkg/anthropic"
)

// fakeStore is an in-memory Store backing analyzer tests. Only the
// methods the analyzer touches are implemented.
type fakeStore struct {
	mu        sync.Mutex
	profiles  map[string]*model.Profile
	analyses  map[string][]model.Analysis
	appendErr error
}

func newFakeStore(profiles ...*model.Profile) *fakeStore {
	fs := &fakeStore{
		profiles: make(map[string]*model.Profile),
		analyses: make(map[string][]model.Analysis),
	}
	for _, p := range profiles {
		fs.profiles[p.FacebookID] = p
	}
	return fs
}

func (f *fakeStore) GetProfile(ctx context.Context, facebookID string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[facebookID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetProfiles(ctx context.Context, facebookIDs []string) ([]model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Profile
	for _, id := range facebookIDs {
		if p, ok := f.profiles[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendAnalysis(ctx context.Context, a *model.Analysis) (*model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	stored := *a
	f.analyses[a.ProfileID] = append(f.analyses[a.ProfileID], stored)
	return &stored, nil
}

func (f *fakeStore) LatestAnalysis(ctx context.Context, facebookID string) (*model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.analyses[facebookID]
	if len(history) == 0 {
		return nil, model.ErrNotFound
	}
	latest := history[len(history)-1]
	return &latest, nil
}

func (f *fakeStore) count(facebookID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analyses[facebookID])
}

func (f *fakeStore) UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) ListRecentProfiles(ctx context.Context, filter store.ProfileFilter) ([]model.Profile, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) ListAnalyses(ctx context.Context, facebookID string) ([]model.Analysis, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) ListRecentAnalyses(ctx context.Context, limit int) ([]model.Analysis, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) AnalysisStats(ctx context.Context) (*model.AnalysisStats, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) ListCandidates(ctx context.Context, limit int) ([]store.CandidateRow, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) GetAccount(ctx context.Context, id string) (*model.SourceAccount, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) SaveAccount(ctx context.Context, a *model.SourceAccount) error {
	panic("not used in analyzer tests")
}

func (f *fakeStore) ListAccounts(ctx context.Context) ([]model.SourceAccount, error) {
	panic("not used in analyzer tests")
}

func (f *fakeStore) TouchAccount(ctx context.Context, id string, usedAt time.Time) error {
	panic("not used in analyzer tests")
}

func (f *fakeStore) Migrate(ctx context.Context) error { panic("not used in analyzer tests") }
func (f *fakeStore) Close() error                      { panic("not used in analyzer tests") }

// stubClient answers CreateMessage with a caller-supplied function.
type stubClient struct {
	fn func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (c *stubClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return c.fn(ctx, req)
}

// Interface guards.
var (
	_ store.Store      = (*fakeStore)(nil)
	_ anthropic.Client = (*stubClient)(nil)
)
