package model

import (
	"errors"
	"fmt"
)

// FetchErrorKind enumerates why a profile fetch failed.
type FetchErrorKind string

const (
	FetchInvalidURL     FetchErrorKind = "invalid-url"
	FetchAccountBlocked FetchErrorKind = "account-blocked"
	FetchTimeout        FetchErrorKind = "timeout"
	FetchNotFound       FetchErrorKind = "not-found"
)

// FetchError is a typed failure from the fetch collaborator.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a FetchError of the given kind.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// FetchKind extracts the FetchErrorKind from an error chain.
// Returns ("", false) when no FetchError is present.
func FetchKind(err error) (FetchErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// AnalysisErrorKind enumerates why a classification failed.
type AnalysisErrorKind string

const (
	AnalysisQuotaExceeded      AnalysisErrorKind = "quota-exceeded"
	AnalysisInvalidRequest     AnalysisErrorKind = "invalid-request"
	AnalysisTimeout            AnalysisErrorKind = "timeout"
	AnalysisIncompleteResponse AnalysisErrorKind = "incomplete-response"
)

// AnalysisError is a typed failure from the classification collaborator.
type AnalysisError struct {
	Kind AnalysisErrorKind
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("analysis: %s", e.Kind)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NewAnalysisError wraps err as an AnalysisError of the given kind.
func NewAnalysisError(kind AnalysisErrorKind, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Err: err}
}

// AnalysisKind extracts the AnalysisErrorKind from an error chain.
func AnalysisKind(err error) (AnalysisErrorKind, bool) {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Store-layer sentinel errors. Profile upserts resolve concurrent writes
// last-writer-wins and analysis inserts are append-only, so ErrConflict
// only surfaces from genuinely conflicting schema-level constraints.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
