// Package cache implements the cache tiers: globally precomputed lists,
// per-user precomputed lists, and request-scoped listing pages.
//
// Backends store opaque bytes with an optional TTL and must support prefix
// deletion. The Tiers manager layers encoding, a circuit breaker, metrics and
// best-effort error handling on top of a Backend.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrUnavailable = errors.New("cache unavailable")
	ErrEmptyKey    = errors.New("cache key must not be empty")
	ErrEmptyPrefix = errors.New("cache prefix must not be empty")
)

// Backend is the storage contract. A ttl of zero means the entry never expires.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every entry whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
