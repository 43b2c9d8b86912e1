package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/config"
)

// Open builds the storage backend selected by cfg.History.Backend. Postgres
// is migrated before it is returned. The caller owns Close.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.History.Backend {
	case config.BackendMemory:
		return NewMemoryStorage(), nil

	case config.BackendFile:
		return NewFileStorage(cfg.History.File)

	case config.BackendRedis:
		rs, err := NewRedisStorage(cfg.Redis.URL, "aisthesis:")
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		return rs, nil

	case config.BackendPostgres:
		pool, err := Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		slog.Info("database connected")
		if err := RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return NewPostgresStorage(pool), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.History.Backend)
}
