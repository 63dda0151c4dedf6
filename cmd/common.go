package cmd

import (
	"context"
	"fmt"

	"github.com/ilri/odktools-sub000/internal/config"
	"github.com/ilri/odktools-sub000/internal/database"
	"github.com/ilri/odktools-sub000/internal/dedup"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (database.Adapter, error) {
	dbURL, err := cfg.GetDatabaseURL()
	if err != nil {
		return nil, err
	}

	adapter, err := database.NewAdapter(cfg.Database.Provider)
	if err != nil {
		return nil, err
	}

	if err := adapter.Connect(ctx, dbURL); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return adapter, nil
}

// openStore builds the configured dedup backend. The returned closer
// releases whatever the backend holds open.
func openStore(ctx context.Context, cfg *config.Config, adapter database.Adapter) (dedup.Store, func(), error) {
	switch cfg.Dedup.Backend {
	case "file":
		return dedup.NewFileStore(cfg.Dedup.File), func() {}, nil

	case "redis":
		url, err := cfg.GetRedisURL()
		if err != nil {
			return nil, nil, err
		}
		store, err := dedup.DialRedis(ctx, url, cfg.Dedup.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	default:
		store := dedup.NewSQLStore(adapter, cfg.Dedup.Table)
		if err := store.Ensure(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
