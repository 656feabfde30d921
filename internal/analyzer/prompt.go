package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/finscope/profiler-cli/internal/model"
)

const classifySystemPrompt = `You are a financial profile analyst. For each profile below, estimate the person's financial status from the visible signals.

Status guidelines:
- "low": little or no income signal, student without side income, unstable or informal work
- "medium": steady employment, skilled trade, mid-level professional
- "high": executive, business owner, high-earning profession, visible wealth signals

For EVERY profile in the input, respond with one entry. Reply with ONLY a JSON array, one object per profile:
[{"profile_id": "<id copied from input>", "status": "low|medium|high", "confidence": <0.0-1.0>, "summary": "<one or two sentences>", "indicators": {"job": [...], "lifestyle": [...], "education": [...], "location": [...]}}]

Every profile_id from the input must appear exactly once. Do not invent profiles. Do not wrap the JSON in markdown.`

// normalizeText canonicalizes scraped free text before it enters a
// prompt: NFC normalization, control characters dropped, whitespace
// runs collapsed.
func normalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// profileText renders one profile as prompt lines. Empty fields are
// omitted so the model is not fed blank signals.
func profileText(p *model.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile_id: %s\n", p.FacebookID)

	fields := []struct{ label, value string }{
		{"Name", p.Name},
		{"Bio", p.Bio},
		{"Work", p.Work},
		{"Education", p.Education},
		{"Location", p.Location},
	}
	for _, f := range fields {
		if v := normalizeText(f.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		}
	}

	if len(p.PostsSample) > 0 {
		b.WriteString("Recent posts:\n")
		for _, post := range p.PostsSample {
			if v := normalizeText(post); v != "" {
				fmt.Fprintf(&b, "- %s\n", v)
			}
		}
	}

	return b.String()
}

// buildGroupPrompt renders a group of profiles into one combined user
// prompt, each member tagged with its profile_id for demuxing.
func buildGroupPrompt(profiles []*model.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %d profile(s):\n\n", len(profiles))
	for i, p := range profiles {
		fmt.Fprintf(&b, "--- Profile %d ---\n%s\n", i+1, profileText(p))
	}
	return b.String()
}
