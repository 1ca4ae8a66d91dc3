// Package config provides centralized configuration management for pulsegate.
// Settings are layered by viper (defaults, config file, PULSEGATE_* environment)
// and decoded into a typed Config with mapstructure.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pulsegate/pulsegate/internal/core/cache"
)

const (
	// AppName is used for config and data directory discovery.
	AppName = "pulsegate"

	// EnvPrefix is the environment variable prefix (without trailing underscore).
	EnvPrefix = "PULSEGATE"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// Load decodes the global viper settings, merged with optional runtime
// overrides, into a Config.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFrom(ctx, viper.GetViper(), runtimeOverrides...)
}

// LoadFrom decodes settings from the supplied viper instance.
func LoadFrom(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if v == nil {
		v = viper.New()
	}

	merged := v.AllSettings()
	for _, overrides := range runtimeOverrides {
		mergeSettings(merged, overrides)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFallbacks(cfg)

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// mergeSettings overlays src onto dst, descending into nested maps.
func mergeSettings(dst map[string]any, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		if nested, ok := value.(map[string]any); ok {
			existing, ok := dst[key].(map[string]any)
			if !ok {
				existing = make(map[string]any)
				dst[key] = existing
			}
			mergeSettings(existing, nested)
			continue
		}
		dst[key] = value
	}
}

// applyFallbacks fills values that must never be zero.
func applyFallbacks(cfg *Config) {
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if cfg.Store.SnapshotMaxAge <= 0 {
		cfg.Store.SnapshotMaxAge = 24 * time.Hour
	}

	policies := cache.DefaultPolicies()
	for name, policy := range cfg.Cache.Policies {
		base := policies[name]
		if policy.TTL > 0 {
			base.TTL = policy.TTL
		}
		if policy.MaxEntries > 0 {
			base.MaxEntries = policy.MaxEntries
		}
		if policy.InitialCapacity > 0 {
			base.InitialCapacity = policy.InitialCapacity
		}
		policies[name] = base
	}
	cfg.Cache.Policies = policies

	if strings.TrimSpace(cfg.GitHub.BaseURL) == "" {
		cfg.GitHub.BaseURL = "https://api.github.com/"
	}
	if cfg.GitHub.LowWater <= 0 {
		cfg.GitHub.LowWater = 100
	}
	if cfg.GitHub.CallTimeout <= 0 {
		cfg.GitHub.CallTimeout = 10 * time.Second
	}
	if cfg.GitHub.Concurrency <= 0 {
		cfg.GitHub.Concurrency = 4
	}
	if cfg.GitHub.RequestsPerSecond <= 0 {
		cfg.GitHub.RequestsPerSecond = 10
	}
	if cfg.GitHub.Burst <= 0 {
		cfg.GitHub.Burst = 1
	}

	if strings.TrimSpace(cfg.Trello.BaseURL) == "" {
		cfg.Trello.BaseURL = "https://api.trello.com/1"
	}
	if cfg.Trello.SoftLimit <= 0 {
		cfg.Trello.SoftLimit = 90
	}
	if cfg.Trello.Window <= 0 {
		cfg.Trello.Window = 10 * time.Second
	}
	if cfg.Trello.MaxAttempts <= 0 {
		cfg.Trello.MaxAttempts = 3
	}
	if cfg.Trello.RetryBackoff <= 0 {
		cfg.Trello.RetryBackoff = 1500 * time.Millisecond
	}
	if cfg.Trello.Timeout <= 0 {
		cfg.Trello.Timeout = 15 * time.Second
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
