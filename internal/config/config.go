package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig           `yaml:"database"`
	Apps      []string                 `yaml:"apps"`
	Tags      map[string]tagging.Rules `yaml:"tags"`
	Fetch     FetchConfig              `yaml:"fetch"`
	Extractor ExtractorConfig          `yaml:"extractor"`
	Schedule  ScheduleConfig           `yaml:"schedule"`
	Alerts    AlertsConfig             `yaml:"alerts"`
	Server    ServerConfig             `yaml:"server"`
	Log       LogConfig                `yaml:"log"`
	Postgres  PostgresConfig           `yaml:"postgres"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	CacheTTL string `yaml:"cache_ttl"`
	// LegacyAppID receives tag rules migrated from a schema without app_id.
	LegacyAppID string `yaml:"legacy_app_id"`
}

// ParseCacheTTL returns the review cache TTL as time.Duration.
func (d DatabaseConfig) ParseCacheTTL() time.Duration {
	return parseDuration(d.CacheTTL, 10*time.Minute)
}

// FetchConfig configures the review source and the fetch loop.
type FetchConfig struct {
	Source     string `yaml:"source"` // "http" or "appstore"
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	BatchSize  int    `yaml:"batch_size"`
	Delay      string `yaml:"delay"`
	RetryDelay string `yaml:"retry_delay"`
	MaxRetries int    `yaml:"max_retries"`
	Language   string `yaml:"language"`
	Country    string `yaml:"country"`
}

// ParseDelay returns the pause between batches.
func (f FetchConfig) ParseDelay() time.Duration {
	return parseDuration(f.Delay, 10*time.Second)
}

// ParseRetryDelay returns the base retry backoff.
func (f FetchConfig) ParseRetryDelay() time.Duration {
	return parseDuration(f.RetryDelay, 10*time.Second)
}

// ExtractorConfig selects the free-text tag parser.
type ExtractorConfig struct {
	Parser string    `yaml:"parser"` // "prose", "llm" or "none"
	LLM    LLMConfig `yaml:"llm"`
}

// LLMConfig configures the optional LLM parser.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// ScheduleConfig configures periodic refreshes.
type ScheduleConfig struct {
	Spec     string `yaml:"spec"`
	Timezone string `yaml:"timezone"`
	Timeout  string `yaml:"timeout"`
}

// ParseTimeout returns the per-tick timeout as time.Duration.
func (s ScheduleConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 2*time.Hour)
}

// AlertsConfig configures run notifications.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig selects the log encoder.
type LogConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// PostgresConfig configures the optional reporting export.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	tags := make(map[string]tagging.Rules, len(tagging.DefaultRules))
	for app, rules := range tagging.DefaultRules {
		tags[app] = rules.Clone()
	}
	return &Config{
		Database: DatabaseConfig{
			Path:        "./reviews.db",
			CacheTTL:    "10m",
			LegacyAppID: "cashgiraffe.app",
		},
		Apps: []string{"cashgiraffe.app", "com.whatsapp"},
		Tags: tags,
		Fetch: FetchConfig{
			Source:     "http",
			BatchSize:  100,
			Delay:      "10s",
			RetryDelay: "10s",
			MaxRetries: 3,
			Language:   "en",
			Country:    "us",
		},
		Extractor: ExtractorConfig{
			Parser: "prose",
			LLM:    LLMConfig{Provider: "openai"},
		},
		Schedule: ScheduleConfig{
			Spec:    "0 0 * * *",
			Timeout: "2h",
		},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Mode: "dev"},
		Postgres: PostgresConfig{Table: "app_reviews"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Fetch.Source {
	case "http", "appstore":
	default:
		return fmt.Errorf("fetch.source: unknown source %q", c.Fetch.Source)
	}
	switch c.Extractor.Parser {
	case "prose", "llm", "none":
	default:
		return fmt.Errorf("extractor.parser: unknown parser %q", c.Extractor.Parser)
	}
	if c.Extractor.Parser == "llm" && c.Extractor.LLM.APIKey == "" {
		return fmt.Errorf("extractor.llm.api_key is required for the llm parser")
	}
	if c.Fetch.BatchSize < 0 || c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch: batch_size and max_retries must not be negative")
	}
	for _, app := range c.Apps {
		if strings.TrimSpace(app) == "" {
			return fmt.Errorf("apps: empty app id")
		}
	}
	for app, rules := range c.Tags {
		for tag := range rules {
			if err := review.ValidateTag("tags."+app, tag); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REVIEW_ANALYZER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("REVIEW_ANALYZER_SOURCE_URL"); v != "" {
		cfg.Fetch.Endpoint = v
	}
	if v := os.Getenv("REVIEW_ANALYZER_SOURCE_KEY"); v != "" {
		cfg.Fetch.APIKey = v
	}
	if v := os.Getenv("REVIEW_ANALYZER_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Extractor.LLM.APIKey == "" {
		cfg.Extractor.LLM.APIKey = v
		cfg.Extractor.LLM.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Extractor.LLM.APIKey == "" {
		cfg.Extractor.LLM.APIKey = v
		cfg.Extractor.LLM.Provider = "anthropic"
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
