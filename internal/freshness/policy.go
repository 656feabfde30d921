// Package freshness decides when cached records must be refreshed.
//
// The same rule governs two independently configured windows: the fetch
// TTL for profile snapshots and the re-analysis interval for stored
// classifications. Both reduce to one question about a timestamp, an
// override flag, and a window.
package freshness

import (
	"context"
	"errors"
	"time"

	"github.com/finscope/profiler-cli/internal/model"
)

// ProfileReader is the store subset the policy consults.
type ProfileReader interface {
	GetProfile(ctx context.Context, facebookID string) (*model.Profile, error)
}

// Stale reports whether a record last touched at last has aged out of ttl
// as of now. A zero last means the record does not exist and is always
// stale. Override forces a refresh regardless of age. A last in the
// future (clock skew) is treated as not stale rather than forcing a
// refetch loop.
func Stale(last time.Time, override bool, ttl time.Duration, now time.Time) bool {
	if override {
		return true
	}
	if last.IsZero() {
		return true
	}
	if last.After(now) {
		return false
	}
	return now.Sub(last) > ttl
}

// Policy answers fetch-needed queries against the profile store.
type Policy struct {
	store ProfileReader
	ttl   time.Duration
	now   func() time.Time
}

// NewPolicy creates a Policy with the given fetch TTL.
func NewPolicy(store ProfileReader, ttl time.Duration) *Policy {
	return &Policy{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// NeedsFetch reports whether the profile identified by facebookID must be
// fetched before it can be used. Pure decision over store state plus the
// clock; no side effects.
func (p *Policy) NeedsFetch(ctx context.Context, facebookID string, override bool) (bool, error) {
	if override {
		return true, nil
	}
	profile, err := p.store.GetProfile(ctx, facebookID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return Stale(profile.LastFetched, false, p.ttl, p.now()), nil
}
