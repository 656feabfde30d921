// Package analyzer classifies fetched profiles in batches.
//
// Profiles are grouped into fixed-size chunks; each chunk goes to the
// provider as one combined prompt whose reply is demultiplexed by
// profile id. Failed groups are retried, then degraded to one call per
// profile so a single bad member cannot sink its neighbors.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/finscope/profiler-cli/internal/config"
	"github.com/finscope/profiler-cli/internal/cost"
	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/internal/resilience"
	"github.com/finscope/profiler-cli/internal/store"
	"github.com/finscope/profiler-cli/pkg/anthropic"
)

// Analyzer coordinates profile classification against the provider.
type Analyzer struct {
	store  store.Store
	client anthropic.Client
	cfg    config.AnalysisConfig
	ai     config.AnthropicConfig
	calc   *cost.Calculator
	now    func() time.Time
}

// New creates an Analyzer.
func New(st store.Store, client anthropic.Client, cfg config.AnalysisConfig, ai config.AnthropicConfig, calc *cost.Calculator) *Analyzer {
	return &Analyzer{
		store:  st,
		client: client,
		cfg:    cfg,
		ai:     ai,
		calc:   calc,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// AnalyzeOne classifies a single profile. Without force it returns the
// latest stored analysis when one exists; staleness-driven re-analysis
// is the selector's concern, not this method's.
func (a *Analyzer) AnalyzeOne(ctx context.Context, profileID string, force bool) (*model.Analysis, error) {
	if !force {
		latest, err := a.store.LatestAnalysis(ctx, profileID)
		if err == nil {
			return latest, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, eris.Wrap(err, "analyzer: latest analysis")
		}
	}

	profile, err := a.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer: profile %s", profileID)
	}
	if !profile.HasContent() {
		return nil, model.NewAnalysisError(model.AnalysisInvalidRequest,
			eris.Errorf("profile %s has no analyzable content", profileID))
	}

	group := []*model.Profile{profile}
	entries, usage, err := a.classifyGroup(ctx, group)
	a.calc.LogSpend(a.ai.Model, "analyze_one", usage)
	if err != nil {
		return nil, err
	}

	entry, ok := findEntry(entries, profileID)
	if !ok {
		return nil, model.NewAnalysisError(model.AnalysisIncompleteResponse,
			eris.Errorf("no entry for profile %s", profileID))
	}
	if err := validateEntry(entry); err != nil {
		return nil, model.NewAnalysisError(model.AnalysisIncompleteResponse, err)
	}

	analysis := a.buildAnalysis(entry, usageShare(usage, 1))
	saved, err := a.store.AppendAnalysis(ctx, analysis)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: append analysis")
	}
	return saved, nil
}

// AnalyzeBatch classifies the given profiles in groups. Every input id
// ends up in exactly one of Results or Errors.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, profileIDs []string, force bool) (*model.BatchResult, error) {
	ids := dedupe(profileIDs)
	result := &model.BatchResult{
		Results: []model.Analysis{},
		Errors:  []model.BatchItemError{},
	}
	if len(ids) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var total anthropic.TokenUsage
	addResult := func(an model.Analysis) {
		mu.Lock()
		defer mu.Unlock()
		result.Results = append(result.Results, an)
	}
	addError := func(id, reason string) {
		mu.Lock()
		defer mu.Unlock()
		result.Errors = append(result.Errors, model.BatchItemError{ProfileID: id, Reason: reason})
	}
	addUsage := func(u anthropic.TokenUsage) {
		mu.Lock()
		defer mu.Unlock()
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
		total.CacheCreationInputTokens += u.CacheCreationInputTokens
		total.CacheReadInputTokens += u.CacheReadInputTokens
	}

	toClassify, err := a.partition(ctx, ids, force, addResult, addError)
	if err != nil {
		return nil, err
	}

	groups := chunk(toClassify, a.cfg.GroupSize)
	pause := time.Duration(a.cfg.GroupPauseSecs) * time.Second
	limiter := rate.NewLimiter(rate.Every(pause), 1)

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.GroupConcurrency)
	for _, group := range groups {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				for _, p := range group {
					addError(p.FacebookID, "cancelled")
				}
				return nil
			}
			a.processGroup(ctx, group, addResult, addError, addUsage)
			return nil
		})
	}
	_ = g.Wait()

	result.ProfilesProcessed = len(result.Results)
	result.ProfilesFailed = len(result.Errors)
	result.TotalTokensUsed = int(total.InputTokens + total.OutputTokens)

	a.calc.LogSpend(a.ai.Model, "batch_analysis", total)
	zap.L().Info("batch analysis finished",
		zap.Int("requested", len(ids)),
		zap.Int("processed", result.ProfilesProcessed),
		zap.Int("failed", result.ProfilesFailed),
		zap.Int("total_tokens", result.TotalTokensUsed))

	return result, nil
}

// partition resolves the input ids into profiles that need a provider
// call, reusing stored analyses and screening out ids that cannot be
// classified.
func (a *Analyzer) partition(ctx context.Context, ids []string, force bool, addResult func(model.Analysis), addError func(id, reason string)) ([]*model.Profile, error) {
	profiles, err := a.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: load profiles")
	}
	byID := make(map[string]*model.Profile, len(profiles))
	for i := range profiles {
		byID[profiles[i].FacebookID] = &profiles[i]
	}

	var toClassify []*model.Profile
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			addError(id, "profile not found")
			continue
		}
		if !force {
			latest, err := a.store.LatestAnalysis(ctx, id)
			if err == nil {
				addResult(*latest)
				continue
			}
			if !errors.Is(err, model.ErrNotFound) {
				return nil, eris.Wrapf(err, "analyzer: latest analysis %s", id)
			}
		}
		if !p.HasContent() {
			addError(id, "no analyzable content")
			continue
		}
		toClassify = append(toClassify, p)
	}
	return toClassify, nil
}

// processGroup runs one combined call for the group, falling back to
// per-profile calls when the group attempt is exhausted.
func (a *Analyzer) processGroup(ctx context.Context, group []*model.Profile, addResult func(model.Analysis), addError func(id, reason string), addUsage func(anthropic.TokenUsage)) {
	entries, usage, err := a.classifyGroup(ctx, group)
	addUsage(usage)

	if err != nil {
		zap.L().Warn("group classification failed, falling back to single calls",
			zap.Int("group_size", len(group)),
			zap.Error(err))
		for _, p := range group {
			a.fallbackSingle(ctx, p, addResult, addError, addUsage)
		}
		return
	}

	a.demux(ctx, group, entries, usage, addResult, addError)
}

// demux attributes id-tagged entries back to the group members,
// validating membership before anything is stored.
func (a *Analyzer) demux(ctx context.Context, group []*model.Profile, entries []classifiedEntry, usage anthropic.TokenUsage, addResult func(model.Analysis), addError func(id, reason string)) {
	members := make(map[string]bool, len(group))
	for _, p := range group {
		members[p.FacebookID] = true
	}

	byID := make(map[string]classifiedEntry, len(entries))
	for _, e := range entries {
		if !members[e.ProfileID] {
			zap.L().Warn("response entry for unknown profile dropped",
				zap.String("profile_id", e.ProfileID))
			continue
		}
		if _, dup := byID[e.ProfileID]; dup {
			zap.L().Warn("duplicate response entry dropped",
				zap.String("profile_id", e.ProfileID))
			continue
		}
		byID[e.ProfileID] = e
	}

	if len(entries) != len(group) {
		zap.L().Warn("response entry count mismatch",
			zap.Int("expected", len(group)),
			zap.Int("got", len(entries)))
	}

	// Split usage only across entries that will actually be stored, so
	// invalid entries do not dilute the attribution.
	storable := 0
	for _, e := range byID {
		if validateEntry(e) == nil {
			storable++
		}
	}
	share := usageShare(usage, storable)
	for _, p := range group {
		entry, ok := byID[p.FacebookID]
		if !ok {
			addError(p.FacebookID, "incomplete response")
			continue
		}
		if err := validateEntry(entry); err != nil {
			addError(p.FacebookID, "invalid response: "+err.Error())
			continue
		}

		saved, err := a.store.AppendAnalysis(ctx, a.buildAnalysis(entry, share))
		if err != nil {
			addError(p.FacebookID, "store error: "+err.Error())
			continue
		}
		addResult(*saved)
	}
}

// fallbackSingle classifies one profile on its own after its group
// attempt failed. A single attempt: group retries are already spent.
func (a *Analyzer) fallbackSingle(ctx context.Context, p *model.Profile, addResult func(model.Analysis), addError func(id, reason string), addUsage func(anthropic.TokenUsage)) {
	resp, err := a.callProvider(ctx, buildGroupPrompt([]*model.Profile{p}))
	if err != nil {
		addError(p.FacebookID, failReason(err))
		return
	}
	addUsage(resp.Usage)

	entries, perr := parseGroupResponse(resp.Text())
	if perr != nil {
		addError(p.FacebookID, "incomplete response")
		return
	}
	entry, ok := findEntry(entries, p.FacebookID)
	if !ok {
		addError(p.FacebookID, "incomplete response")
		return
	}
	if err := validateEntry(entry); err != nil {
		addError(p.FacebookID, "invalid response: "+err.Error())
		return
	}

	saved, err := a.store.AppendAnalysis(ctx, a.buildAnalysis(entry, usageShare(resp.Usage, 1)))
	if err != nil {
		addError(p.FacebookID, "store error: "+err.Error())
		return
	}
	addResult(*saved)
}

// classifyGroup sends one combined prompt for the group, retrying
// transient failures (including garbled replies) per the configured
// retry budget. Token usage from every completed call is counted, even
// when its reply was unusable.
func (a *Analyzer) classifyGroup(ctx context.Context, group []*model.Profile) ([]classifiedEntry, anthropic.TokenUsage, error) {
	prompt := buildGroupPrompt(group)

	var total anthropic.TokenUsage
	var entries []classifiedEntry

	retryCfg := resilience.GroupRetryConfig(a.cfg.GroupRetries)
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "classify_group")

	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		resp, err := a.callProvider(ctx, prompt)
		if err != nil {
			return err
		}
		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens
		total.CacheCreationInputTokens += resp.Usage.CacheCreationInputTokens
		total.CacheReadInputTokens += resp.Usage.CacheReadInputTokens

		parsed, perr := parseGroupResponse(resp.Text())
		if perr != nil {
			// A garbled reply is worth one more attempt.
			return resilience.NewTransientError(perr, 0)
		}
		entries = parsed
		return nil
	})

	return entries, total, err
}

func (a *Analyzer) callProvider(ctx context.Context, prompt string) (*anthropic.MessageResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(a.ai.TimeoutSecs)*time.Second)
	defer cancel()

	return a.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     a.ai.Model,
		MaxTokens: a.ai.MaxTokens,
		System:    []anthropic.SystemBlock{{Text: classifySystemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}}},
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
}

func (a *Analyzer) buildAnalysis(e classifiedEntry, usage model.TokenUsage) *model.Analysis {
	return &model.Analysis{
		ID:         uuid.NewString(),
		ProfileID:  e.ProfileID,
		Status:     model.FinancialStatus(strings.ToLower(e.Status)),
		Confidence: e.Confidence,
		Summary:    e.Summary,
		Indicators: e.Indicators,
		Model:      a.ai.Model,
		Usage:      usage,
		CreatedAt:  a.now(),
	}
}

// usageShare splits a group call's usage evenly across its n attributed
// members for per-analysis bookkeeping. Batch totals use the unsplit
// numbers.
func usageShare(u anthropic.TokenUsage, n int) model.TokenUsage {
	if n <= 0 {
		n = 1
	}
	prompt := int(u.InputTokens) / n
	completion := int(u.OutputTokens) / n
	return model.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func failReason(err error) string {
	if kind, ok := model.AnalysisKind(err); ok {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}

func findEntry(entries []classifiedEntry, profileID string) (classifiedEntry, bool) {
	for _, e := range entries {
		if e.ProfileID == profileID {
			return e, true
		}
	}
	return classifiedEntry{}, false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func chunk(profiles []*model.Profile, size int) [][]*model.Profile {
	if size <= 0 {
		size = 1
	}
	var groups [][]*model.Profile
	for start := 0; start < len(profiles); start += size {
		end := min(start+size, len(profiles))
		groups = append(groups, profiles[start:end])
	}
	return groups
}
