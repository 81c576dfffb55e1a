package storage

import (
	"context"

	"decklens/internal/config"
	"decklens/internal/services"
)

// Open builds the backend selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return NewMemory(opts...), nil
	case "sqlite", "":
		store, err := OpenSQLite(cfg.Storage.SQLitePath, opts...)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "storage", "open sqlite", cfg.Storage.SQLitePath, err)
		}
		return store, nil
	case "redis":
		store, err := OpenRedis(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisPrefix, opts...)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "storage", "open redis", "", err)
		}
		return store, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open", "unknown backend "+cfg.Storage.Backend, nil)
	}
}
