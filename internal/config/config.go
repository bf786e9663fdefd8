// Package config loads and validates the pipeline configuration via Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the explicit configuration value object built once at startup
// and passed by reference into each component's constructor. No component
// reads ambient global state.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourcesConfig identifies the court sites to ingest from.
type SourcesConfig struct {
	BaseURL          string   `mapstructure:"base_url"`
	UserAgent        string   `mapstructure:"user_agent"`
	Enabled          []string `mapstructure:"enabled"`
	HeadlessFallback bool     `mapstructure:"headless_fallback"`
}

// HTTPConfig configures document download retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
	BaseDelayMS    int `mapstructure:"base_delay_ms"`
}

// PacingConfig sets the polite delays between requests. These are a hard
// requirement: the court sites block callers that exceed a polite rate.
type PacingConfig struct {
	DocumentDelaySeconds int `mapstructure:"document_delay_seconds"`
	SourceDelaySeconds   int `mapstructure:"source_delay_seconds"`
}

// LedgerConfig controls access to the relational ledger.
type LedgerConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// ArtifactsConfig sets where downloaded opinion documents are stored.
type ArtifactsConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// EngineConfig configures the analysis engine client.
type EngineConfig struct {
	Provider         string `mapstructure:"provider"`
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	MaxTokens        int    `mapstructure:"max_tokens"`
	PromptFile       string `mapstructure:"prompt_file"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BaseDelaySeconds int    `mapstructure:"base_delay_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// AnalysisConfig governs the analysis driver batch behavior.
type AnalysisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	BatchDefault int  `mapstructure:"batch_default"`
	DelaySeconds int  `mapstructure:"delay_seconds"`
}

// NotifierConfig holds metadata for run-summary notifications.
type NotifierConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ServerConfig controls the status/metrics HTTP endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from the supplied Viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Sources.BaseURL == "" {
		return fmt.Errorf("sources.base_url must be set")
	}
	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must list at least one source")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Ledger.Provider == "postgres" && c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn must be set when ledger.provider is postgres")
	}
	if c.Artifacts.Provider == "gcs" && c.Artifacts.GCSBucket == "" {
		return fmt.Errorf("artifacts.gcs_bucket must be set when artifacts.provider is gcs")
	}
	if c.Engine.Provider == "anthropic" && c.Analysis.Enabled && c.Engine.APIKey == "" {
		return fmt.Errorf("engine.api_key must be set when analysis is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when server.enabled is true")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BaseRetryDelay converts the retry base delay config into a duration.
func (c Config) BaseRetryDelay() time.Duration {
	return time.Duration(c.HTTP.BaseDelayMS) * time.Millisecond
}

// DocumentDelay is the polite delay between document fetches within a source.
func (c Config) DocumentDelay() time.Duration {
	return time.Duration(c.Pacing.DocumentDelaySeconds) * time.Second
}

// SourceDelay is the polite delay between sources.
func (c Config) SourceDelay() time.Duration {
	return time.Duration(c.Pacing.SourceDelaySeconds) * time.Second
}
