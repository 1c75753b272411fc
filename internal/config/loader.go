package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment contract.
const (
	EnvPrefix     = "VOYAGE_"
	EnvConfigPath = "VOYAGE_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if VOYAGE_CONFIG is set
//  3. env (prefix VOYAGE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrLoadConfig, path, err)
		}
	}

	// VOYAGE_QUEUE_SIZE -> queue_size. Keys are flat, so underscores survive.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The config path itself is not a setting.
	k.Delete("config")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that the rest of the service relies on.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueBackend != BackendMemory && c.QueueBackend != BackendNATS:
		return fmt.Errorf("%w: queue_backend must be memory or nats, got %q", ErrInvalidConfig, c.QueueBackend)
	case c.CacheBackend != BackendMemory && c.CacheBackend != BackendBadger:
		return fmt.Errorf("%w: cache_backend must be memory or badger, got %q", ErrInvalidConfig, c.CacheBackend)
	case c.QueueBackend == BackendNATS && c.NATSURL == "" && !c.NATSEmbedded:
		return fmt.Errorf("%w: nats_url is required for the nats queue backend", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.MaxRecommendationLimit < 1:
		return fmt.Errorf("%w: max_recommendation_limit must be at least 1", ErrInvalidConfig)
	case c.DefaultRecommendationLimit < 1 || c.DefaultRecommendationLimit > c.MaxRecommendationLimit:
		return fmt.Errorf("%w: default_recommendation_limit must be within [1, max_recommendation_limit]", ErrInvalidConfig)
	case c.PrecacheListingTTL < 0:
		return fmt.Errorf("%w: precache_listing_ttl must not be negative", ErrInvalidConfig)
	case c.UserCacheTTL <= 0:
		return fmt.Errorf("%w: user_cache_ttl must be positive", ErrInvalidConfig)
	case c.TrendingWindow <= 0:
		return fmt.Errorf("%w: trending_window must be positive", ErrInvalidConfig)
	}
	return nil
}
