// Package config loads application configuration from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lmeira/docsqueeze/internal/review"
)

// Config holds the full application configuration.
type Config struct {
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Tags       review.Tags      `yaml:"tags" mapstructure:"tags"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ArchiveConfig holds the document archive API settings.
type ArchiveConfig struct {
	URL       string  `yaml:"url" mapstructure:"url"`
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	GatekeeperModel string `yaml:"gatekeeper_model" mapstructure:"gatekeeper_model"`
	SpecialistModel string `yaml:"specialist_model" mapstructure:"specialist_model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ProcessingConfig configures extraction and merge behavior.
type ProcessingConfig struct {
	AutoApplyThreshold  float64 `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`
	SuggestionThreshold float64 `yaml:"suggestion_threshold" mapstructure:"suggestion_threshold"`
	MaxContentLength    int     `yaml:"max_content_length" mapstructure:"max_content_length"`
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TemplatesConfig points at the template definitions file.
type TemplatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the webhook server.
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
	v.SetEnvPrefix("DOCSQUEEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("archive.rate_limit", 10.0)
	v.SetDefault("archive.burst", 5)
	v.SetDefault("anthropic.gatekeeper_model", "claude-haiku-4-5-20250514")
	v.SetDefault("anthropic.specialist_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("processing.auto_apply_threshold", 0.7)
	v.SetDefault("processing.suggestion_threshold", 0.9)
	v.SetDefault("processing.max_content_length", 25000)
	v.SetDefault("processing.concurrency", 4)
	v.SetDefault("tags.needs_review", "ai-review-needed")
	v.SetDefault("tags.approved", "ai-approved")
	v.SetDefault("tags.rejected", "ai-rejected")
	v.SetDefault("tags.processed", "ai-processed")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docsqueeze.db")
	v.SetDefault("templates.path", "templates.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
