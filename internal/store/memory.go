package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps everything in process memory. Nothing survives a
// restart, which makes it the private-browsing backend and the test default.
type MemoryStorage struct {
	mu       sync.RWMutex
	items    map[string][]byte
	counters map[string]counter
	closed   bool
	now      func() time.Time
}

type counter struct {
	n       int64
	expires time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:    make(map[string][]byte),
		counters: make(map[string]counter),
		now:      time.Now,
	}
}

func (s *MemoryStorage) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStorage) SetItem(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.items, key)
	return nil
}

func (s *MemoryStorage) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		c = counter{expires: now.Add(expiry)}
	}
	c.n++
	s.counters[key] = c
	return c.n, nil
}

func (s *MemoryStorage) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Counter = (*MemoryStorage)(nil)
)
