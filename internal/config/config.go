// Package config loads and validates ImportScout configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/importscout/internal/lead"
)

// Storage backends accepted by storage.backend.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Auth      AuthConfig            `mapstructure:"auth"`
	Agent     AgentConfig           `mapstructure:"agent"`
	Scout     ScoutConfig           `mapstructure:"scout"`
	Webhook   WebhookConfig         `mapstructure:"webhook"`
	Storage   StorageConfig         `mapstructure:"storage"`
	Database  DatabaseConfig        `mapstructure:"database"`
	PubSub    PubSubConfig          `mapstructure:"pubsub"`
	Progress  ProgressConfig        `mapstructure:"progress"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Telemetry TelemetryConfig       `mapstructure:"telemetry"`
	Missions  map[string]lead.Query `mapstructure:"missions"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AgentConfig configures the Gemini search agent.
type AgentConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float32 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RatePerMinute  float64 `mapstructure:"rate_per_minute"`
	Burst          int     `mapstructure:"burst"`
	SearchTool     bool    `mapstructure:"search_tool"`
	MapsTool       bool    `mapstructure:"maps_tool"`
}

// ScoutConfig bounds query limits.
type ScoutConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// WebhookConfig seeds the delivery endpoint and envelope metadata.
type WebhookConfig struct {
	URL            string `mapstructure:"url"`
	Source         string `mapstructure:"source"`
	User           string `mapstructure:"user"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where raw agent responses are archived.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the run-history database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RunsTable       string        `mapstructure:"runs_table"`
	DeliveriesTable string        `mapstructure:"deliveries_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds sink batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyMissionDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 180)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.model", "gemini-2.5-flash")
	v.SetDefault("agent.temperature", 0.1)
	v.SetDefault("agent.timeout_seconds", 120)
	v.SetDefault("agent.rate_per_minute", 10)
	v.SetDefault("agent.burst", 1)
	v.SetDefault("agent.search_tool", true)
	v.SetDefault("agent.maps_tool", true)
	v.SetDefault("scout.default_limit", 10)
	v.SetDefault("scout.max_limit", 20)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.source", "ImportScout App")
	v.SetDefault("webhook.user", "")
	v.SetDefault("webhook.timeout_seconds", 30)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.prefix", "responses")
	v.SetDefault("database.runs_table", "ingestion_runs")
	v.SetDefault("database.deliveries_table", "deliveries")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "importscout")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func (c *Config) applyMissionDefaults() {
	for name, m := range c.Missions {
		if m.Limit == 0 {
			m.Limit = c.Scout.DefaultLimit
			c.Missions[name] = m
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Agent.Temperature < 0 {
		return fmt.Errorf("agent.temperature must be >= 0")
	}
	if c.Agent.TimeoutSeconds <= 0 {
		return fmt.Errorf("agent.timeout_seconds must be > 0")
	}
	if c.Agent.RatePerMinute > 0 && c.Agent.Burst <= 0 {
		return fmt.Errorf("agent.burst must be > 0 when agent.rate_per_minute is set")
	}
	if c.Scout.MaxLimit <= 0 {
		return fmt.Errorf("scout.max_limit must be > 0")
	}
	if c.Scout.DefaultLimit <= 0 || c.Scout.DefaultLimit > c.Scout.MaxLimit {
		return fmt.Errorf("scout.default_limit must be between 1 and scout.max_limit (%d)", c.Scout.MaxLimit)
	}
	if c.Webhook.TimeoutSeconds < 0 {
		return fmt.Errorf("webhook.timeout_seconds must be >= 0")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Progress.Enabled && c.Progress.BufferSize < 0 {
		return fmt.Errorf("progress.buffer_size must be >= 0")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter %q is not supported", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	for _, name := range c.MissionNames() {
		m := c.Missions[name]
		if strings.TrimSpace(m.Product) == "" || strings.TrimSpace(m.Region) == "" {
			return fmt.Errorf("missions.%s requires product and region", name)
		}
		if m.Limit < 1 || m.Limit > c.Scout.MaxLimit {
			return fmt.Errorf("missions.%s.limit must be between 1 and %d", name, c.Scout.MaxLimit)
		}
	}
	return nil
}

// MissionNames returns the configured mission names in sorted order.
func (c Config) MissionNames() []string {
	names := make([]string, 0, len(c.Missions))
	for name := range c.Missions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AgentTimeout converts the agent timeout into a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// WebhookTimeout converts the per-attempt webhook timeout into a duration.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds API handlers; scouting runs are synchronous so this
// must exceed the agent timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
