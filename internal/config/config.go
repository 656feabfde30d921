package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Gate      GateConfig      `yaml:"gate" mapstructure:"gate"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GateConfig holds settings for the profile gate fetch service.
type GateConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FetchConfig configures profile fetch pacing and staleness.
type FetchConfig struct {
	TTLHours         int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	DelaySecs        int `yaml:"delay_secs" mapstructure:"delay_secs"`
	MinDelaySecs     int `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
	MaxDelaySecs     int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	MaxBulkProfiles  int `yaml:"max_bulk_profiles" mapstructure:"max_bulk_profiles"`
	JobRetentionMins int `yaml:"job_retention_mins" mapstructure:"job_retention_mins"`
}

// TTL returns the profile staleness window.
func (c FetchConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Delay clamps the requested inter-fetch delay to the configured bounds.
func (c FetchConfig) Delay(requested time.Duration) time.Duration {
	minD := time.Duration(c.MinDelaySecs) * time.Second
	maxD := time.Duration(c.MaxDelaySecs) * time.Second
	if requested <= 0 {
		requested = time.Duration(c.DelaySecs) * time.Second
	}
	if requested < minD {
		return minD
	}
	if maxD > 0 && requested > maxD {
		return maxD
	}
	return requested
}

// AnalysisConfig configures batch analysis and re-analysis selection.
type AnalysisConfig struct {
	GroupSize           int     `yaml:"group_size" mapstructure:"group_size"`
	GroupRetries        int     `yaml:"group_retries" mapstructure:"group_retries"`
	GroupConcurrency    int     `yaml:"group_concurrency" mapstructure:"group_concurrency"`
	GroupPauseSecs      int     `yaml:"group_pause_secs" mapstructure:"group_pause_secs"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	ReanalyzeDays       int     `yaml:"reanalyze_days" mapstructure:"reanalyze_days"`
}

// ReanalyzeInterval returns the re-analysis staleness window.
func (c AnalysisConfig) ReanalyzeInterval() time.Duration {
	return time.Duration(c.ReanalyzeDays) * 24 * time.Hour
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds input/output token rates for one model.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROFILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("gate.base_url", "http://localhost:9222")
	v.SetDefault("gate.timeout_secs", 90)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("fetch.ttl_hours", 24)
	v.SetDefault("fetch.delay_secs", 5)
	v.SetDefault("fetch.min_delay_secs", 1)
	v.SetDefault("fetch.max_delay_secs", 30)
	v.SetDefault("fetch.max_bulk_profiles", 20)
	v.SetDefault("fetch.job_retention_mins", 120)
	v.SetDefault("analysis.group_size", 5)
	v.SetDefault("analysis.group_retries", 2)
	v.SetDefault("analysis.group_concurrency", 3)
	v.SetDefault("analysis.group_pause_secs", 2)
	v.SetDefault("analysis.confidence_threshold", 0.5)
	v.SetDefault("analysis.reanalyze_days", 7)
	v.SetDefault("pricing.anthropic", map[string]map[string]float64{
		"claude-haiku-4-5-20251001":  {"input": 0.80, "output": 4.00},
		"claude-sonnet-4-5-20250929": {"input": 3.00, "output": 15.00},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
