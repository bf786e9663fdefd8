// Package config is responsible for initializing the application's
// configuration. It uses the Viper library to read settings from a config
// file and environment variables, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. Designed to be called once at startup.
// A non-empty cfgFile bypasses the search paths.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pdrbot")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/pdrbot/")
		viper.AddConfigPath("$HOME/.pdrbot")
	}

	SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("PDRBOT") // e.g. PDRBOT_HTTP_MAX_RETRIES=5
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}

// SetDefaults installs the default configuration values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)

	v.SetDefault("sources.base_url", "https://search.txcourts.gov/")
	v.SetDefault("sources.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("sources.enabled", []string{
		"coa01", "coa02", "coa03", "coa04", "coa05", "coa06", "coa07",
		"coa08", "coa09", "coa10", "coa11", "coa12", "coa13", "coa14",
	})
	v.SetDefault("sources.headless_fallback", false)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.base_delay_ms", 1000)

	v.SetDefault("pacing.document_delay_seconds", 1)
	v.SetDefault("pacing.source_delay_seconds", 2)

	v.SetDefault("ledger.provider", "postgres")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("artifacts.provider", "local")
	v.SetDefault("artifacts.base_dir", "data")
	v.SetDefault("artifacts.gcs_bucket", "")

	v.SetDefault("engine.provider", "anthropic")
	v.SetDefault("engine.api_key", "")
	v.SetDefault("engine.model", "claude-3-5-sonnet-20250107")
	v.SetDefault("engine.max_tokens", 64000)
	v.SetDefault("engine.prompt_file", "pdrbot-prompt")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.base_delay_seconds", 5)
	v.SetDefault("engine.timeout_seconds", 300)

	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.batch_default", 0)
	v.SetDefault("analysis.delay_seconds", 2)

	v.SetDefault("notifier.provider", "noop")
	v.SetDefault("notifier.project_id", "")
	v.SetDefault("notifier.topic_id", "")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9090")
}
