// Package store provides the local durable key/value backends behind the
// job index. Every backend behaves like a browser's localStorage: opaque
// values under string keys, no transactions, no listing.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Storage is the key/value interface all index persistence goes through.
// Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem returns the value stored under key. A missing key is (nil, false, nil).
	GetItem(ctx context.Context, key string) ([]byte, bool, error)
	SetItem(ctx context.Context, key string, value []byte) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Counter is a fixed-window counter used for request rate limiting.
type Counter interface {
	// IncrWithExpiry increments key and returns the new value. The first
	// increment of a window starts its expiry clock.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}
