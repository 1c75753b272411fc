package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

// Default cache tier configuration.
const (
	defaultUserTTL          = time.Hour
	defaultFailureThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second
	defaultHalfOpenRequests = 1
)

// Tiers is the cache tier manager. Reads degrade to a miss when the backend
// fails or the breaker is open. Writes and deletes report errors but callers
// on the read path are expected to ignore them.
type Tiers struct {
	backend          Backend
	breaker          *gobreaker.CircuitBreaker[any]
	log              logger.Logger
	userTTL          time.Duration
	failureThreshold uint32
	breakerTimeout   time.Duration
}

// TiersOption configures Tiers.
type TiersOption func(*Tiers)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) TiersOption {
	return func(t *Tiers) {
		if l != nil {
			t.log = l
		}
	}
}

// WithUserTTL sets the lifetime of per-user entries.
func WithUserTTL(ttl time.Duration) TiersOption {
	return func(t *Tiers) {
		if ttl > 0 {
			t.userTTL = ttl
		}
	}
}

// WithBreaker tunes the circuit breaker around the backend.
func WithBreaker(consecutiveFailures int, openFor time.Duration) TiersOption {
	return func(t *Tiers) {
		if consecutiveFailures > 0 {
			t.failureThreshold = uint32(consecutiveFailures) //nolint:gosec // bounded by config validation
		}
		if openFor > 0 {
			t.breakerTimeout = openFor
		}
	}
}

// NewTiers wraps backend.
func NewTiers(backend Backend, opts ...TiersOption) *Tiers {
	t := &Tiers{
		backend:          backend,
		log:              logger.Nop(),
		userTTL:          defaultUserTTL,
		failureThreshold: defaultFailureThreshold,
		breakerTimeout:   defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}

	threshold := t.failureThreshold
	t.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "cache",
		MaxRequests: defaultHalfOpenRequests,
		Timeout:     t.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCacheBreakerOpen(to == gobreaker.StateOpen)
			t.log.Warn(context.Background(), "cache breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return t
}

// UserTTL is the lifetime applied to per-user entries.
func (t *Tiers) UserTTL() time.Duration { return t.userTTL }

// BreakerState reports the breaker state for stats.
func (t *Tiers) BreakerState() string { return t.breaker.State().String() }

type hit struct {
	data []byte
	ok   bool
}

// GetRaw returns stored bytes. Any failure is logged and reported as a miss.
func (t *Tiers) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	tier := TierOf(key)
	res, err := t.breaker.Execute(func() (any, error) {
		data, ok, err := t.backend.Get(ctx, key)
		return hit{data: data, ok: ok}, err
	})
	if err != nil {
		metrics.RecordCacheError("get")
		metrics.RecordCacheMiss(tier)
		t.log.Warn(ctx, "cache read degraded to miss", logger.String("key", key), logger.Error(err))
		return nil, false
	}
	h := res.(hit)
	if !h.ok {
		metrics.RecordCacheMiss(tier)
		return nil, false
	}
	metrics.RecordCacheHit(tier)
	return h.data, true
}

// Get decodes the entry at key into dst. Undecodable payloads count as a miss.
func (t *Tiers) Get(ctx context.Context, key string, dst any) bool {
	data, ok := t.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := decode(data, dst); err != nil {
		metrics.RecordCacheError("decode")
		t.log.Warn(ctx, "cache payload undecodable", logger.String("key", key), logger.Error(err))
		return false
	}
	return true
}

// GetEntries reads a recommendation list.
func (t *Tiers) GetEntries(ctx context.Context, key string) ([]types.Entry, bool) {
	var entries []types.Entry
	if !t.Get(ctx, key, &entries) {
		return nil, false
	}
	if entries == nil {
		entries = []types.Entry{}
	}
	return entries, true
}

// SetRaw stores bytes at key, replacing any previous entry wholesale.
func (t *Tiers) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.backend.Set(ctx, key, data, ttl)
	})
	if err != nil {
		metrics.RecordCacheError("set")
		t.log.Warn(ctx, "cache write failed", logger.String("key", key), logger.Error(err))
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Set encodes v and stores it at key.
func (t *Tiers) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.SetRaw(ctx, key, data, ttl)
}

// InvalidateKey removes a single entry.
func (t *Tiers) InvalidateKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.backend.Delete(ctx, key)
	})
	if err != nil {
		metrics.RecordCacheError("delete")
		t.log.Warn(ctx, "cache delete failed", logger.String("key", key), logger.Error(err))
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// InvalidatePrefix removes every entry under prefix. Once it returns without
// error none of those entries are readable.
func (t *Tiers) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	res, err := t.breaker.Execute(func() (any, error) {
		return t.backend.DeletePrefix(ctx, prefix)
	})
	if err != nil {
		metrics.RecordCacheError("delete_prefix")
		t.log.Warn(ctx, "cache prefix delete failed", logger.String("prefix", prefix), logger.Error(err))
		return 0, fmt.Errorf("%w: delete prefix %s: %w", ErrUnavailable, prefix, err)
	}
	n, _ := res.(int)
	return n, nil
}

// InvalidateUser drops both per-user recommendation entries.
func (t *Tiers) InvalidateUser(ctx context.Context, userID string) error {
	var errs []error
	for _, k := range UserKeys(userID) {
		if err := t.InvalidateKey(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (t *Tiers) Close() error {
	return t.backend.Close()
}
