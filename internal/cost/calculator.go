// Package cost computes classification spend from token usage.
package cost

import (
	"go.uber.org/zap"

	"github.com/finscope/profiler-cli/pkg/anthropic"
)

// Rate holds per-model token pricing (USD per million tokens).
type Rate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for classification API usage.
type Calculator struct {
	rates map[string]Rate
}

// NewCalculator creates a Calculator with the given per-model rates.
func NewCalculator(rates map[string]Rate) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost in USD for a single Claude call.
// Cache writes bill at 1.25x input and cache reads at 0.1x input.
// Returns 0 for unknown models.
func (c *Calculator) Claude(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationInputTokens) / 1e6) * rate.Input * 1.25
	crCost := (float64(u.CacheReadInputTokens) / 1e6) * rate.Input * 0.1

	return inCost + outCost + cwCost + crCost
}

// LogSpend logs token usage and estimated cost with structured fields.
func (c *Calculator) LogSpend(model, phase string, u anthropic.TokenUsage) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", c.Claude(model, u)),
	)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	}
}
