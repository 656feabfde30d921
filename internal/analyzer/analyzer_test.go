package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscope/profiler-cli/internal/config"
	"github.com/finscope/profiler-cli/internal/cost"
	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/pkg/anthropic"
)

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		GroupSize:           5,
		GroupRetries:        0,
		GroupConcurrency:    3,
		GroupPauseSecs:      0,
		ConfidenceThreshold: 0.5,
		ReanalyzeDays:       7,
	}
}

func testAnthropicConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   2048,
		TimeoutSecs: 30,
	}
}

func newTestAnalyzer(fs *fakeStore, client anthropic.Client) *Analyzer {
	return New(fs, client, testAnalysisConfig(), testAnthropicConfig(), cost.NewCalculator(cost.DefaultRates()))
}

// promptIDs extracts the profile ids mentioned in a request's user prompt.
func promptIDs(req anthropic.MessageRequest) []string {
	var ids []string
	for _, line := range strings.Split(req.Messages[0].Content, "\n") {
		if rest, ok := strings.CutPrefix(line, "profile_id: "); ok {
			ids = append(ids, rest)
		}
	}
	return ids
}

// entriesFor builds a well-formed reply covering the given ids.
func entriesFor(ids ...string) string {
	entries := make([]classifiedEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, classifiedEntry{
			ProfileID:  id,
			Status:     "medium",
			Confidence: 0.8,
			Summary:    "Steady employment.",
			Indicators: map[string][]string{"job": {"employed"}},
		})
	}
	out, _ := json.Marshal(entries)
	return string(out)
}

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

func contentProfile(id string) *model.Profile {
	return &model.Profile{FacebookID: id, Name: "Person " + id, Work: "Job " + id}
}

func TestAnalyzeOne_ReturnsStoredWithoutForce(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"))
	stored, err := fs.AppendAnalysis(context.Background(), &model.Analysis{
		ID: "an-1", ProfileID: "fb1", Status: model.StatusHigh, Confidence: 0.9,
	})
	require.NoError(t, err)

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("provider must not be called when a stored analysis exists")
		return nil, nil
	}}

	a := newTestAnalyzer(fs, client)
	got, err := a.AnalyzeOne(context.Background(), "fb1", false)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
}

func TestAnalyzeOne_ClassifiesAndAppends(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"))
	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		assert.Equal(t, []string{"fb1"}, promptIDs(req))
		return textResponse(entriesFor("fb1"), 100, 40), nil
	}}

	a := newTestAnalyzer(fs, client)
	got, err := a.AnalyzeOne(context.Background(), "fb1", false)
	require.NoError(t, err)

	assert.Equal(t, "fb1", got.ProfileID)
	assert.Equal(t, model.StatusMedium, got.Status)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.Equal(t, "claude-haiku-4-5-20251001", got.Model)
	assert.Equal(t, 140, got.Usage.TotalTokens)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, 1, fs.count("fb1"))
}

func TestAnalyzeOne_ForceReclassifies(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"))
	_, err := fs.AppendAnalysis(context.Background(), &model.Analysis{
		ID: "an-1", ProfileID: "fb1", Status: model.StatusLow,
	})
	require.NoError(t, err)

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(entriesFor("fb1"), 10, 10), nil
	}}

	a := newTestAnalyzer(fs, client)
	got, err := a.AnalyzeOne(context.Background(), "fb1", true)
	require.NoError(t, err)
	assert.NotEqual(t, "an-1", got.ID)
	assert.Equal(t, 2, fs.count("fb1"))
}

func TestAnalyzeOne_MissingProfile(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(newFakeStore(), &stubClient{})
	_, err := a.AnalyzeOne(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAnalyzeOne_NoContent(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(&model.Profile{FacebookID: "fb1", ProfileURL: "https://facebook.com/fb1"})
	a := newTestAnalyzer(fs, &stubClient{})

	_, err := a.AnalyzeOne(context.Background(), "fb1", false)
	require.Error(t, err)
	kind, ok := model.AnalysisKind(err)
	require.True(t, ok)
	assert.Equal(t, model.AnalysisInvalidRequest, kind)
}

func TestAnalyzeBatch_SplitsIntoGroups(t *testing.T) {
	t.Parallel()

	var profiles []*model.Profile
	var ids []string
	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("fb%d", i)
		ids = append(ids, id)
		profiles = append(profiles, contentProfile(id))
	}
	fs := newFakeStore(profiles...)

	var calls atomic.Int32
	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		calls.Add(1)
		members := promptIDs(req)
		assert.LessOrEqual(t, len(members), 5)
		return textResponse(entriesFor(members...), 100, 50), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), ids, true)
	require.NoError(t, err)

	// 7 profiles at group size 5: one group of 5, one of 2.
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 7, result.ProfilesProcessed)
	assert.Equal(t, 0, result.ProfilesFailed)
	assert.Len(t, result.Results, 7)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2*150, result.TotalTokensUsed)

	for _, id := range ids {
		assert.Equal(t, 1, fs.count(id), id)
	}
}

func TestAnalyzeBatch_FallbackAfterGroupFailure(t *testing.T) {
	t.Parallel()

	var profiles []*model.Profile
	var ids []string
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("fb%d", i)
		ids = append(ids, id)
		profiles = append(profiles, contentProfile(id))
	}
	fs := newFakeStore(profiles...)

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		members := promptIDs(req)
		if len(members) > 1 {
			// Combined call rejected outright.
			return nil, model.NewAnalysisError(model.AnalysisInvalidRequest, nil)
		}
		if members[0] == "fb3" {
			return nil, model.NewAnalysisError(model.AnalysisQuotaExceeded, nil)
		}
		return textResponse(entriesFor(members[0]), 20, 10), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), ids, true)
	require.NoError(t, err)

	assert.Equal(t, 4, result.ProfilesProcessed)
	assert.Equal(t, 1, result.ProfilesFailed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fb3", result.Errors[0].ProfileID)
	assert.Equal(t, string(model.AnalysisQuotaExceeded), result.Errors[0].Reason)

	// Only the four successful fallback calls consumed tokens.
	assert.Equal(t, 4*30, result.TotalTokensUsed)
}

func TestAnalyzeBatch_IncompleteGroupResponse(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"), contentProfile("fb2"), contentProfile("fb3"))

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		// fb2 is silently dropped by the provider.
		return textResponse(entriesFor("fb1", "fb3"), 60, 30), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1", "fb2", "fb3"}, true)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ProfilesProcessed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fb2", result.Errors[0].ProfileID)
	assert.Equal(t, "incomplete response", result.Errors[0].Reason)
	assert.Zero(t, fs.count("fb2"))
}

func TestAnalyzeBatch_DropsForeignEntries(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"))

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		// Provider hallucinated an extra profile.
		return textResponse(entriesFor("fb1", "intruder"), 40, 20), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProfilesProcessed)
	assert.Empty(t, result.Errors)
	assert.Zero(t, fs.count("intruder"))
}

func TestAnalyzeBatch_InvalidEntryDoesNotDiluteUsage(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"), contentProfile("fb2"))

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		// fb2's entry fails validation, so fb1 carries the whole call.
		return textResponse(`[
			{"profile_id":"fb1","status":"high","confidence":0.9,"summary":"s","indicators":{}},
			{"profile_id":"fb2","status":"wealthy","confidence":0.9,"summary":"s","indicators":{}}
		]`, 80, 40), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1", "fb2"}, true)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, "fb1", result.Results[0].ProfileID)
	assert.Equal(t, 120, result.Results[0].Usage.TotalTokens)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fb2", result.Errors[0].ProfileID)
	assert.Equal(t, 120, result.TotalTokensUsed)
}

func TestAnalyzeBatch_EveryIDAccounted(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(
		contentProfile("ok1"),
		&model.Profile{FacebookID: "empty1"}, // nothing to analyze
		contentProfile("ok2"),
	)

	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(entriesFor(promptIDs(req)...), 10, 5), nil
	}}

	a := newTestAnalyzer(fs, client)
	input := []string{"ok1", "missing1", "empty1", "ok2", "ok1"} // dup ok1 collapses
	result, err := a.AnalyzeBatch(context.Background(), input, true)
	require.NoError(t, err)

	var got []string
	for _, r := range result.Results {
		got = append(got, r.ProfileID)
	}
	for _, e := range result.Errors {
		got = append(got, e.ProfileID)
	}
	assert.ElementsMatch(t, []string{"ok1", "ok2", "missing1", "empty1"}, got)

	reasons := map[string]string{}
	for _, e := range result.Errors {
		reasons[e.ProfileID] = e.Reason
	}
	assert.Equal(t, "profile not found", reasons["missing1"])
	assert.Equal(t, "no analyzable content", reasons["empty1"])
}

func TestAnalyzeBatch_ReusesStoredWithoutForce(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"), contentProfile("fb2"))
	stored, err := fs.AppendAnalysis(context.Background(), &model.Analysis{
		ID: "an-1", ProfileID: "fb1", Status: model.StatusHigh, Confidence: 0.95,
	})
	require.NoError(t, err)

	var calls atomic.Int32
	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		calls.Add(1)
		assert.Equal(t, []string{"fb2"}, promptIDs(req))
		return textResponse(entriesFor("fb2"), 10, 5), nil
	}}

	a := newTestAnalyzer(fs, client)
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1", "fb2"}, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, result.ProfilesProcessed)

	byID := map[string]model.Analysis{}
	for _, r := range result.Results {
		byID[r.ProfileID] = r
	}
	assert.Equal(t, stored.ID, byID["fb1"].ID)
	// Stored reuse consumes no tokens.
	assert.Equal(t, 15, result.TotalTokensUsed)
}

func TestAnalyzeBatch_RetriesGarbledGroupReply(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"), contentProfile("fb2"))

	cfg := testAnalysisConfig()
	cfg.GroupRetries = 1

	var calls atomic.Int32
	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if calls.Add(1) == 1 {
			return textResponse("I'd rather not answer in JSON today.", 30, 10), nil
		}
		return textResponse(entriesFor("fb1", "fb2"), 30, 15), nil
	}}

	a := New(fs, client, cfg, testAnthropicConfig(), cost.NewCalculator(cost.DefaultRates()))
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1", "fb2"}, true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, result.ProfilesProcessed)
	assert.Empty(t, result.Errors)
	// Both attempts consumed tokens.
	assert.Equal(t, 40+45, result.TotalTokensUsed)
}

func TestAnalyzeBatch_EmptyInput(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(newFakeStore(), &stubClient{})
	result, err := a.AnalyzeBatch(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Zero(t, result.ProfilesProcessed)
	assert.Zero(t, result.ProfilesFailed)
	assert.Zero(t, result.TotalTokensUsed)
}

func TestUsageShare(t *testing.T) {
	t.Parallel()

	share := usageShare(anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50}, 5)
	assert.Equal(t, model.TokenUsage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}, share)

	whole := usageShare(anthropic.TokenUsage{InputTokens: 10, OutputTokens: 10}, 0)
	assert.Equal(t, 20, whole.TotalTokens)
}

// Guard against the retry budget stalling tests: a permanent error must
// not be retried at the group level.
func TestAnalyzeBatch_PermanentGroupErrorGoesStraightToFallback(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(contentProfile("fb1"), contentProfile("fb2"))

	cfg := testAnalysisConfig()
	cfg.GroupRetries = 2

	var groupCalls, singleCalls atomic.Int32
	client := &stubClient{fn: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		members := promptIDs(req)
		if len(members) > 1 {
			groupCalls.Add(1)
			return nil, model.NewAnalysisError(model.AnalysisInvalidRequest, nil)
		}
		singleCalls.Add(1)
		return textResponse(entriesFor(members[0]), 10, 5), nil
	}}

	a := New(fs, client, cfg, testAnthropicConfig(), cost.NewCalculator(cost.DefaultRates()))

	start := time.Now()
	result, err := a.AnalyzeBatch(context.Background(), []string{"fb1", "fb2"}, true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), groupCalls.Load())
	assert.Equal(t, int32(2), singleCalls.Load())
	assert.Equal(t, 2, result.ProfilesProcessed)
	assert.Less(t, time.Since(start), 2*time.Second)
}
