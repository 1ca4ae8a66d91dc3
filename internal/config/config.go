package config

import (
	"time"

	"github.com/pulsegate/pulsegate/internal/core/cache"
)

// Config represents the complete application configuration. Values are
// layered: built-in defaults, then the user config file, then PULSEGATE_*
// environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Trello  TrelloConfig  `mapstructure:"trello"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver         string        `mapstructure:"driver"`
	Path           string        `mapstructure:"path"`
	URL            string        `mapstructure:"url"`
	AuthToken      string        `mapstructure:"auth_token"`
	Enabled        bool          `mapstructure:"enabled"`
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age"`
}

// CacheConfig contains the named cache policies and the optional shared tier.
type CacheConfig struct {
	Policies  map[string]cache.Policy `mapstructure:"policies"`
	KeySecret string                  `mapstructure:"key_secret"`
	Redis     cache.RedisConfig       `mapstructure:"redis"`
}

// GitHubConfig configures the code-hosting upstream.
type GitHubConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	LowWater          int           `mapstructure:"low_water"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// TrelloConfig configures the kanban upstream.
type TrelloConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	APIToken     string        `mapstructure:"api_token"`
	SoftLimit    int           `mapstructure:"soft_limit"`
	Window       time.Duration `mapstructure:"window"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}
