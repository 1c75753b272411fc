// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New(ctx) to build a Config with defaults.
//   - Load layers file and env on top of New.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"runtime"
	"time"
)

// Queue and cache backend identifiers.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendBadger = "badger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueBackend selects the task transport: memory or nats.
	QueueBackend string `koanf:"queue_backend"`

	// QueueSize bounds the in-memory task queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of task workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the interaction-id dedupe window and the in-flight user markers.
	DedupeSize int `koanf:"dedupe_size"`

	// CacheBackend selects the cache store: memory or badger.
	CacheBackend string `koanf:"cache_backend"`

	// BadgerPath is the badger data directory. Empty runs badger in memory.
	BadgerPath string `koanf:"badger_path"`

	// Cache lifetimes.
	UserCacheTTL          time.Duration `koanf:"user_cache_ttl"`
	DestinationListingTTL time.Duration `koanf:"destination_listing_ttl"`
	CategoryListingTTL    time.Duration `koanf:"category_listing_ttl"`

	// PrecacheListingTTL is the lifetime of listing pages written by the
	// precache jobs. Zero keeps them until the next invalidation or overwrite.
	PrecacheListingTTL time.Duration `koanf:"precache_listing_ttl"`

	// TrendingWindow is the lookback used by the trending recompute.
	TrendingWindow time.Duration `koanf:"trending_window"`

	// ActiveUserWindow selects users for the periodic per-user precache.
	ActiveUserWindow time.Duration `koanf:"active_user_window"`

	// InflightTTL bounds how long a user's queued precache suppresses new
	// requests for the same user. It covers tasks lost in transit.
	InflightTTL time.Duration `koanf:"inflight_ttl"`

	// RebuildOnStart runs the global rebuild and trending recompute at boot.
	RebuildOnStart bool `koanf:"rebuild_on_start"`

	// Cron expressions (with seconds) for periodic jobs. Empty disables a job.
	ScheduleRebuildGlobal string `koanf:"schedule_rebuild_global"`
	SchedulePrecacheUsers string `koanf:"schedule_precache_users"`
	ScheduleTrending      string `koanf:"schedule_trending"`
	ScheduleClearStale    string `koanf:"schedule_clear_stale"`
	ScheduleListings      string `koanf:"schedule_listings"`

	// NATS transport for tasks and write-path hooks.
	NATSURL         string `koanf:"nats_url"`
	NATSTaskSubject string `koanf:"nats_task_subject"`
	NATSHookPrefix  string `koanf:"nats_hook_prefix"`

	// NATSEmbedded runs an in-process NATS server on NATSEmbeddedPort and
	// points the task queue and hooks at it instead of NATSURL.
	NATSEmbedded     bool `koanf:"nats_embedded"`
	NATSEmbeddedPort int  `koanf:"nats_embedded_port"`

	// PostgresDSN enables the Postgres-backed catalog and interaction log.
	PostgresDSN string `koanf:"postgres_dsn"`

	// CatalogFile seeds the in-memory catalog when Postgres is not configured.
	CatalogFile string `koanf:"catalog_file"`

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// TrackRatePerMinute limits tracking calls per client address.
	TrackRatePerMinute int `koanf:"track_rate_per_minute"`

	// Recommendation limits.
	DefaultRecommendationLimit int `koanf:"default_recommendation_limit"`
	MaxRecommendationLimit     int `koanf:"max_recommendation_limit"`
	TrendingLimit              int `koanf:"trending_limit"`

	// Cache circuit breaker.
	BreakerFailureThreshold int           `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                   "info",
		Addr:                       ":9080",
		QueueBackend:               BackendMemory,
		QueueSize:                  10_000,
		WorkerCount:                runtime.NumCPU() * 2,
		DedupeSize:                 500_000,
		CacheBackend:               BackendMemory,
		UserCacheTTL:               time.Hour,
		DestinationListingTTL:      time.Minute,
		CategoryListingTTL:         time.Hour,
		TrendingWindow:             7 * 24 * time.Hour,
		ActiveUserWindow:           24 * time.Hour,
		InflightTTL:                30 * time.Second,
		RebuildOnStart:             true,
		ScheduleRebuildGlobal:      "0 */15 * * * *",
		SchedulePrecacheUsers:      "0 0 * * * *",
		ScheduleTrending:           "0 0 3 * * *",
		ScheduleClearStale:         "0 30 4 * * *",
		ScheduleListings:           "0 */30 * * * *",
		NATSURL:                    "nats://127.0.0.1:4222",
		NATSTaskSubject:            "voyage.tasks",
		NATSHookPrefix:             "voyage.hooks",
		NATSEmbeddedPort:           4222,
		CORSAllowedOrigins:         []string{"http://localhost:3000"},
		TrackRatePerMinute:         600,
		DefaultRecommendationLimit: 5,
		MaxRecommendationLimit:     20,
		TrendingLimit:              10,
		BreakerFailureThreshold:    5,
		BreakerTimeout:             30 * time.Second,
		ShutdownTimeout:            30 * time.Second,
	}
}
