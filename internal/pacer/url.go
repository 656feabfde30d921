package pacer

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/model"
)

// ExternalID derives the platform identifier from a profile URL. Vanity
// URLs carry it as the first path segment (facebook.com/jane.doe); numeric
// profiles carry it as the id query parameter
// (facebook.com/profile.php?id=100012345).
func ExternalID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", model.NewFetchError(model.FetchInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", model.NewFetchError(model.FetchInvalidURL, raw,
			eris.Errorf("unsupported scheme %q", u.Scheme))
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", model.NewFetchError(model.FetchInvalidURL, raw, eris.New("no profile path"))
	}

	if segments[0] == "profile.php" {
		id := u.Query().Get("id")
		if id == "" {
			return "", model.NewFetchError(model.FetchInvalidURL, raw, eris.New("profile.php without id"))
		}
		return id, nil
	}

	return segments[0], nil
}
