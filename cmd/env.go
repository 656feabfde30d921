package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/analyzer"
	"github.com/finscope/profiler-cli/internal/cost"
	"github.com/finscope/profiler-cli/internal/pacer"
	"github.com/finscope/profiler-cli/internal/selector"
	"github.com/finscope/profiler-cli/internal/store"
	"github.com/finscope/profiler-cli/pkg/anthropic"
	"github.com/finscope/profiler-cli/pkg/profilegate"
)

// appEnv holds the initialized store and pipeline components shared by
// the serve/fetch/analyze commands.
type appEnv struct {
	Store    store.Store
	Pacer    *pacer.Pacer
	Analyzer *analyzer.Analyzer
	Selector *selector.Selector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "profiler.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store and builds the pacer, analyzer, and
// selector. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gate := profilegate.NewClient(cfg.Gate.BaseURL, cfg.Gate.Key)
	aiClient := anthropic.NewClient(cfg.Anthropic.Key)
	calc := cost.NewCalculator(pricingRates())

	gateTimeout := time.Duration(cfg.Gate.TimeoutSecs) * time.Second

	return &appEnv{
		Store:    st,
		Pacer:    pacer.New(st, gate, cfg.Fetch, gateTimeout),
		Analyzer: analyzer.New(st, aiClient, cfg.Analysis, cfg.Anthropic, calc),
		Selector: selector.New(st, cfg.Analysis),
	}, nil
}

// printJSON renders command output as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func pricingRates() map[string]cost.Rate {
	if len(cfg.Pricing.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := make(map[string]cost.Rate, len(cfg.Pricing.Anthropic))
	for model, p := range cfg.Pricing.Anthropic {
		rates[model] = cost.Rate{Input: p.Input, Output: p.Output}
	}
	return rates
}
