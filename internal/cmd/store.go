package cmd

import (
	"context"
	"fmt"

	"github.com/pulsegate/pulsegate/internal/config"
	"github.com/pulsegate/pulsegate/internal/core/store"
)

// openStore opens and migrates the snapshot archive.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openConfiguredStore loads configuration and opens the archive. Commands that
// only manage the archive use it directly, without the rest of the runtime.
func openConfiguredStore(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStore(ctx, cfg.Store)
}
