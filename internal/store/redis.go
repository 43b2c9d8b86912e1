package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage and Counter on go-redis/v9. Keys are
// namespaced by prefix so several dashboards can share one Redis.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a RedisStorage from a Redis URL.
func NewRedisStorage(redisURL, prefix string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStorage{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + k
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStorage) SetItem(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStorage) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	k := s.key(key)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Counter = (*RedisStorage)(nil)
)
