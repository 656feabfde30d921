package analyzer

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/model"
)

// classifiedEntry is one per-profile object in the provider's JSON array
// response.
type classifiedEntry struct {
	ProfileID  string              `json:"profile_id"`
	Status     string              `json:"status"`
	Confidence float64             `json:"confidence"`
	Summary    string              `json:"summary"`
	Indicators map[string][]string `json:"indicators"`
}

// cleanJSON strips markdown code fences and surrounding prose, keeping
// the outermost JSON array (or object, for single-entry replies).
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}

	// Single-object fallback.
	start = strings.Index(text, "{")
	end = strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}

	return strings.TrimSpace(text)
}

// parseGroupResponse decodes a combined classification reply into its
// per-profile entries. The reply may be a JSON array or, for groups of
// one, a bare object.
func parseGroupResponse(text string) ([]classifiedEntry, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("analyzer: empty response")
	}

	var entries []classifiedEntry
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		var single classifiedEntry
		if err2 := json.Unmarshal([]byte(cleaned), &single); err2 != nil {
			return nil, eris.Wrap(err, "analyzer: unmarshal response")
		}
		entries = []classifiedEntry{single}
	}

	return entries, nil
}

// validateEntry checks one decoded entry against the response contract.
func validateEntry(e classifiedEntry) error {
	if e.ProfileID == "" {
		return eris.New("missing profile_id")
	}
	if !model.ValidStatus(model.FinancialStatus(strings.ToLower(e.Status))) {
		return eris.Errorf("invalid status %q", e.Status)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return eris.Errorf("confidence %v out of range", e.Confidence)
	}
	return nil
}
