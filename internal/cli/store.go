package cli

import (
	"context"
	"fmt"

	"shibe/internal/config"
	"shibe/internal/moderation"
	"shibe/internal/storage"
	"shibe/internal/storage/memory"
	"shibe/internal/storage/postgres"

	"go.uber.org/zap"
)

type openedStore struct {
	moderation.Store
	migrate func(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*openedStore, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := storage.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: open sqlite %s: %w", moderation.ErrStoreUnavailable, cfg.Path, err)
		}
		store.WithTimeout(cfg.Timeout)
		return &openedStore{Store: store, migrate: func(context.Context) error { return store.Migrate() }}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", moderation.ErrStoreUnavailable, err)
		}
		store := postgres.New(pool, cfg.Timeout)
		return &openedStore{Store: store, migrate: store.Migrate}, nil
	case "memory":
		logger.Warn("using in-memory store, moderation history is lost on restart")
		return &openedStore{Store: memory.New(), migrate: func(context.Context) error { return nil }}, nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", moderation.ErrInvalidConfiguration, cfg.Driver)
	}
}
