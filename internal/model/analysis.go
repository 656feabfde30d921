package model

import "time"

// FinancialStatus is the classifier's estimate of a profile's financial tier.
type FinancialStatus string

const (
	StatusLow    FinancialStatus = "low"
	StatusMedium FinancialStatus = "medium"
	StatusHigh   FinancialStatus = "high"
)

// ValidStatus reports whether s is one of the three recognized tiers.
func ValidStatus(s FinancialStatus) bool {
	switch s {
	case StatusLow, StatusMedium, StatusHigh:
		return true
	}
	return false
}

// Indicator categories reported by the classifier.
const (
	IndicatorJob       = "job"
	IndicatorLifestyle = "lifestyle"
	IndicatorEducation = "education"
	IndicatorLocation  = "location"
)

// Analysis is one classification result for a profile. Analyses are
// append-only: a profile accumulates them over time and the most recent
// one is authoritative.
type Analysis struct {
	ID         string              `json:"id"`
	ProfileID  string              `json:"profile_id"` // Profile.FacebookID
	Status     FinancialStatus     `json:"status"`
	Confidence float64             `json:"confidence"`
	Summary    string              `json:"summary"`
	Indicators map[string][]string `json:"indicators,omitempty"`
	Model      string              `json:"model"`
	Usage      TokenUsage          `json:"usage"`
	CreatedAt  time.Time           `json:"created_at"`
}

// TokenUsage tracks token consumption for classification calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
}

// BatchItemError records why a single profile failed inside a batch run.
type BatchItemError struct {
	ProfileID string `json:"profile_id"`
	Reason    string `json:"reason"`
}

// BatchResult is the aggregate outcome of a batch analysis. Every input
// profile id lands in exactly one of Results or Errors.
type BatchResult struct {
	Results           []Analysis       `json:"results"`
	Errors            []BatchItemError `json:"errors"`
	TotalTokensUsed   int              `json:"total_tokens_used"`
	ProfilesProcessed int              `json:"profiles_processed"`
	ProfilesFailed    int              `json:"profiles_failed"`
}

// AnalysisStats aggregates stored analyses by status.
type AnalysisStats struct {
	ByStatus map[FinancialStatus]StatusStats `json:"by_status"`
	Total    StatusStats                     `json:"total"`
}

// StatusStats holds a count and mean confidence for one status bucket.
type StatusStats struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"average_confidence"`
}
