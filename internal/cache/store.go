// Package cache provides the shared expiring key/value store that holds all
// mutable two-factor state: throttle histories, trusted devices, one-time
// codes and lockout flags. State is addressed by key; there are no
// in-process locks between requests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is missing or expired
var ErrCacheMiss = errors.New("cache miss")

// Store is a keyed store where every entry carries its own TTL
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report backend health
type Pinger interface {
	Ping(ctx context.Context) error
}
