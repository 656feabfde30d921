// Package pacer schedules profile fetches against the gate service.
//
// All fetches for one source account run strictly one at a time; bulk
// requests become background jobs that walk their URLs sequentially with
// an enforced minimum delay between attempts.
package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finscope/profiler-cli/internal/config"
	"github.com/finscope/profiler-cli/internal/freshness"
	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/internal/store"
	"github.com/finscope/profiler-cli/pkg/profilegate"
)

// Pacer coordinates profile fetches: freshness check, account gate,
// per-account serialization, and persistence of successful snapshots.
type Pacer struct {
	store   store.Store
	gate    profilegate.Client
	policy  *freshness.Policy
	cfg     config.FetchConfig
	timeout time.Duration

	mu       sync.Mutex
	accounts map[string]*sync.Mutex

	jobs *jobRegistry
	now  func() time.Time
}

// New creates a Pacer. gateTimeout bounds each individual gate call.
func New(st store.Store, gate profilegate.Client, cfg config.FetchConfig, gateTimeout time.Duration) *Pacer {
	return &Pacer{
		store:    st,
		gate:     gate,
		policy:   freshness.NewPolicy(st, cfg.TTL()),
		cfg:      cfg,
		timeout:  gateTimeout,
		accounts: make(map[string]*sync.Mutex),
		jobs:     newJobRegistry(time.Duration(cfg.JobRetentionMins) * time.Minute),
		now:      time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (p *Pacer) WithClock(now func() time.Time) *Pacer {
	p.now = now
	p.policy.WithClock(now)
	return p
}

// accountLock returns the mutex serializing fetches for one account.
func (p *Pacer) accountLock(accountID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.accounts[accountID]
	if !ok {
		l = &sync.Mutex{}
		p.accounts[accountID] = l
	}
	return l
}

// Fetch returns the profile behind targetURL, hitting the gate only when
// the cached snapshot is missing or stale (or force is set). A successful
// gate call upserts the snapshot before returning; a failed one writes
// nothing.
func (p *Pacer) Fetch(ctx context.Context, targetURL, accountID string, force bool) (*model.Profile, error) {
	fbID, err := ExternalID(targetURL)
	if err != nil {
		return nil, err
	}

	lock := p.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	needs, err := p.policy.NeedsFetch(ctx, fbID, force)
	if err != nil {
		return nil, eris.Wrap(err, "pacer: freshness check")
	}
	if !needs {
		cached, err := p.store.GetProfile(ctx, fbID)
		if err != nil {
			return nil, eris.Wrap(err, "pacer: load cached profile")
		}
		zap.L().Debug("profile fresh, skipping fetch",
			zap.String("facebook_id", fbID),
			zap.Time("last_fetched", cached.LastFetched))
		return cached, nil
	}

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, eris.Wrapf(err, "pacer: account %s", accountID)
	}
	if !account.Available(p.now()) {
		return nil, model.NewFetchError(model.FetchAccountBlocked, targetURL,
			eris.Errorf("account %s unavailable", accountID))
	}

	gateCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.gate.Fetch(gateCtx, targetURL, profilegate.Credentials{
		AccountID:     account.ID,
		CredentialRef: account.CredentialRef,
	})
	if err != nil {
		return nil, err
	}

	now := p.now()
	profile := &model.Profile{
		FacebookID:       data.FacebookID,
		Name:             data.Name,
		Bio:              data.Bio,
		Location:         data.Location,
		Work:             data.Work,
		Education:        data.Education,
		ProfileURL:       targetURL,
		PostsSample:      data.PostsSample,
		LastFetched:      now,
		FetchedByAccount: accountID,
	}
	if profile.FacebookID == "" {
		profile.FacebookID = fbID
	}
	if len(profile.PostsSample) > model.MaxPostsSample {
		profile.PostsSample = profile.PostsSample[:model.MaxPostsSample]
	}

	saved, err := p.store.UpsertProfile(ctx, profile)
	if err != nil {
		return nil, eris.Wrap(err, "pacer: upsert profile")
	}

	if err := p.store.TouchAccount(ctx, accountID, now); err != nil {
		zap.L().Warn("touch account failed",
			zap.String("account_id", accountID), zap.Error(err))
	}

	zap.L().Info("profile fetched",
		zap.String("facebook_id", saved.FacebookID),
		zap.String("account_id", accountID))

	return saved, nil
}
