package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements Storage on a local_storage table using pgx/v5.
// Values must be JSON documents.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgresStorage. The schema must already
// be migrated with RunMigrations.
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStorage) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM local_storage WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get item %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStorage) SetItem(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO local_storage (key, value, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (key) DO UPDATE SET
		   value = EXCLUDED.value,
		   updated_at = NOW()`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("set item %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) RemoveItem(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM local_storage WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("remove item %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

var _ Storage = (*PostgresStorage)(nil)
