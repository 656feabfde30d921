package model

import "time"

// MaxPostsSample bounds how many recent posts are kept per profile.
const MaxPostsSample = 20

// Profile is a fetched snapshot of an externally hosted user profile,
// keyed by the source platform's unique identifier. Re-fetching the same
// identifier overwrites the previous snapshot (last-writer-wins); the
// analysis history referencing it is kept separately.
type Profile struct {
	FacebookID       string    `json:"facebook_id"`
	Name             string    `json:"name,omitempty"`
	Bio              string    `json:"bio,omitempty"`
	Location         string    `json:"location,omitempty"`
	Work             string    `json:"work,omitempty"`
	Education        string    `json:"education,omitempty"`
	ProfileURL       string    `json:"profile_url"`
	PostsSample      []string  `json:"posts_sample,omitempty"`
	LastFetched      time.Time `json:"last_fetched"`
	FetchedByAccount string    `json:"fetched_by_account"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasContent reports whether the profile carries anything worth sending
// to the classifier. Identifier and URL alone are not analyzable.
func (p *Profile) HasContent() bool {
	return p.Name != "" || p.Bio != "" || p.Work != "" ||
		p.Education != "" || p.Location != "" || len(p.PostsSample) > 0
}

// SourceAccount is the scheduling view of a platform account used for
// fetching. Credential material lives with the fetch collaborator; the
// pacer only tracks availability and usage recency.
type SourceAccount struct {
	ID            string     `json:"id"`
	CredentialRef string     `json:"credential_ref"`
	Blocked       bool       `json:"blocked"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Available reports whether the account may be used for fetching at t.
func (a *SourceAccount) Available(t time.Time) bool {
	if a.Blocked {
		return false
	}
	if a.CooldownUntil != nil && t.Before(*a.CooldownUntil) {
		return false
	}
	return true
}
