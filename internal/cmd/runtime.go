package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/config"
	"github.com/pulsegate/pulsegate/internal/core/cache"
	"github.com/pulsegate/pulsegate/internal/core/engine"
	"github.com/pulsegate/pulsegate/internal/core/github"
	"github.com/pulsegate/pulsegate/internal/core/store"
	"github.com/pulsegate/pulsegate/internal/core/trello"
)

// appRuntime bundles the wired components shared by the CLI and the server.
type appRuntime struct {
	cfg          *config.Config
	cache        *cache.Store
	store        *store.Store
	github       *github.Aggregator
	trello       *trello.Client
	orchestrator *engine.Orchestrator
}

// buildRuntime wires cache, archive and upstream clients from configuration.
// Optional layers (redis tier, archive) degrade to warnings when unavailable.
func buildRuntime(ctx context.Context, logger *logging.Logger) (*appRuntime, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	opts := []cache.Option{cache.WithLogger(logger)}
	if cfg.Cache.Redis.Enabled() {
		tier, err := cache.NewRedisTier(ctx, cfg.Cache.Redis)
		if err != nil {
			warn(logger, "Redis cache tier unavailable, using memory only", zap.Error(err))
		} else {
			opts = append(opts, cache.WithTier(tier))
		}
	}

	cacheStore, err := cache.New(cfg.Cache.Policies, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	secret, err := cache.KeySecret(cfg.Cache.KeySecret)
	if err != nil {
		_ = cacheStore.Close()
		return nil, fmt.Errorf("derive cache key secret: %w", err)
	}

	rt := &appRuntime{
		cfg:    cfg,
		cache:  cacheStore,
		github: github.NewAggregator(cfg.GitHub, logger),
	}
	if trelloConfigured(cfg.Trello) {
		rt.trello = trello.NewClient(cfg.Trello, logger)
	}

	rt.orchestrator = &engine.Orchestrator{
		GitHub:        rt.github,
		Cache:         cacheStore,
		ArchiveMaxAge: cfg.Store.SnapshotMaxAge,
		KeySecret:     secret,
		Logger:        logger,
	}
	if rt.trello != nil {
		rt.orchestrator.Boards = rt.trello
	}

	if cfg.Store.Enabled {
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			warn(logger, "Snapshot archive unavailable, continuing with memory cache only", zap.Error(err))
		} else {
			rt.store = db
			rt.orchestrator.Archive = db
		}
	}

	return rt, nil
}

// boards returns the kanban client or an error naming the missing settings.
func (rt *appRuntime) boards() (*trello.Client, error) {
	if rt.trello == nil {
		return nil, errors.New("trello is not configured: set trello.api_key and trello.api_token")
	}
	return rt.trello, nil
}

// Close releases the cache and archive.
func (rt *appRuntime) Close() error {
	var errs []error
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}

func trelloConfigured(cfg config.TrelloConfig) bool {
	return strings.TrimSpace(cfg.APIKey) != "" && strings.TrimSpace(cfg.APIToken) != ""
}

// resolveGitHubToken prefers the --token flag, then GITHUB_TOKEN, then
// PULSEGATE_GITHUB_TOKEN.
func resolveGitHubToken(flag string) string {
	if token := strings.TrimSpace(flag); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); token != "" {
		return token
	}
	return strings.TrimSpace(os.Getenv(config.EnvPrefix + "_GITHUB_TOKEN"))
}

func warn(logger *logging.Logger, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Warn(msg, fields...)
	}
}
