// Package service assembles the recommendation engine from configuration:
// persistence, cache tiers, the task transport, workers, the cron scheduler,
// hook subscribers and the HTTP API, all running under one supervisor tree.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/voyage/internal/adapters/cache"
	"github.com/okian/voyage/internal/adapters/http/api"
	"github.com/okian/voyage/internal/adapters/mq/hooks"
	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/adapters/mq/worker"
	"github.com/okian/voyage/internal/adapters/repository"
	"github.com/okian/voyage/internal/config"
	"github.com/okian/voyage/internal/domain/dedupe"
	"github.com/okian/voyage/internal/jobs"
	"github.com/okian/voyage/internal/recommend"
	"github.com/okian/voyage/internal/scheduler"
	"github.com/okian/voyage/internal/supervisor"
	"github.com/okian/voyage/internal/supervisor/services"
	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

// Intervals for background upkeep and HTTP server timeouts.
const (
	cacheMaintenanceInterval = time.Minute
	systemMetricsInterval    = 10 * time.Second
	readTimeout              = 10 * time.Second
	writeTimeout             = 10 * time.Second
	idleTimeout              = 60 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

// bootJobs warm the caches before the API starts serving.
var bootJobs = []string{
	jobs.RecomputeTrending,
	jobs.RebuildGlobal,
	jobs.PrecacheDestinationListings,
	jobs.PrecacheCategoryListings,
}

// Service owns every long-lived component of the process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store     repository.Store
	backend   cache.Backend
	tiers     *cache.Tiers
	embedded  *queue.EmbeddedServer
	nc        *nats.Conn
	taskQueue queue.Queue
	events    dedupe.Deduper
	inflight  dedupe.Deduper
	runner    *jobs.Runner
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
	hooks     *hooks.Subscriber
	core      *recommend.Service
	handler   http.Handler
	tree      *supervisor.Tree

	// State
	started bool
	cancel  context.CancelFunc
	done    <-chan error

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults are used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a store instead of building one from configuration.
// The Service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = config.New(context.Background())
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	return s
}

// Start opens every component, warms the caches when configured to, and
// starts the supervisor tree in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting voyage service...")

	if err := s.build(ctx); err != nil {
		_ = s.release(ctx)
		return err
	}

	if s.cfg.RebuildOnStart {
		s.warm(ctx)
	}

	treeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = s.tree.ServeBackground(treeCtx)
	s.started = true

	s.logger.Info(ctx, "voyage service started",
		logger.String("addr", s.cfg.Addr),
		logger.String("queue", s.cfg.QueueBackend),
		logger.String("cache", s.cfg.CacheBackend),
		logger.Int("workers", s.cfg.WorkerCount),
	)
	return nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg

	if s.store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		s.store = store
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	s.backend = backend
	s.tiers = cache.NewTiers(backend,
		cache.WithLogger(s.logger.Named("cache")),
		cache.WithUserTTL(cfg.UserCacheTTL),
		cache.WithBreaker(cfg.BreakerFailureThreshold, cfg.BreakerTimeout),
	)

	if err := s.openQueue(ctx); err != nil {
		return err
	}

	s.events = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.inflight = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize), dedupe.WithTTL(cfg.InflightTTL))

	s.runner = jobs.NewRunner(s.store, s.tiers,
		jobs.WithLogger(s.logger.Named("jobs")),
		jobs.WithInflight(s.inflight),
		jobs.WithTrendingWindow(cfg.TrendingWindow),
		jobs.WithActiveUserWindow(cfg.ActiveUserWindow),
		jobs.WithListingTTLs(cfg.PrecacheListingTTL, cfg.PrecacheListingTTL),
	)
	s.pool = worker.NewPool(cfg.WorkerCount, s.taskQueue, s.runner, worker.WithLogger(s.logger.Named("worker")))

	s.core = recommend.New(s.store, s.tiers, s.taskQueue,
		recommend.WithLogger(s.logger.Named("recommend")),
		recommend.WithEventDeduper(s.events),
		recommend.WithInflight(s.inflight),
		recommend.WithLimits(cfg.DefaultRecommendationLimit, cfg.MaxRecommendationLimit),
		recommend.WithTrendingLimit(cfg.TrendingLimit),
		recommend.WithListingTTLs(cfg.DestinationListingTTL, cfg.CategoryListingTTL),
	)

	s.scheduler, err = scheduler.New(s.taskQueue, schedules(cfg), scheduler.WithLogger(s.logger.Named("scheduler")))
	if err != nil {
		return err
	}

	if s.nc != nil {
		s.hooks = hooks.NewSubscriber(s.nc, s.core,
			hooks.WithPrefix(cfg.NATSHookPrefix),
			hooks.WithLogger(s.logger.Named("hooks")),
		)
	}

	s.handler = api.NewServer(s.core, s.core,
		api.WithCORSOrigins(cfg.CORSAllowedOrigins),
		api.WithTrackRate(cfg.TrackRatePerMinute),
		api.WithLogger(s.logger.Named("api")),
	).Router()

	s.tree = s.buildTree()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.PostgresDSN != "" {
		pg, err := repository.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	}
	var opts []repository.Option
	if cfg.CatalogFile != "" {
		catalog, err := repository.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, repository.WithCatalog(catalog))
	}
	return repository.NewMemoryStore(opts...), nil
}

func openBackend(cfg *config.Config) (cache.Backend, error) {
	if cfg.CacheBackend == config.BackendBadger {
		return cache.OpenBadger(cfg.BadgerPath)
	}
	return cache.NewMemoryBackend(), nil
}

func (s *Service) openQueue(ctx context.Context) error {
	cfg := s.cfg
	if cfg.QueueBackend != config.BackendNATS {
		s.taskQueue = queue.NewInMemoryQueue(
			queue.WithCapacity(cfg.QueueSize),
			queue.WithBufferSize(cfg.QueueSize),
		)
		metrics.UpdateQueueCapacity(cfg.QueueSize)
		return nil
	}

	url := cfg.NATSURL
	if cfg.NATSEmbedded {
		es, err := queue.StartEmbeddedNATS("127.0.0.1", cfg.NATSEmbeddedPort)
		if err != nil {
			return err
		}
		s.embedded = es
		url = es.ClientURL()
		s.logger.Info(ctx, "embedded NATS server started", logger.String("url", url))
	}
	nc, err := queue.DialNATS(url, "voyage")
	if err != nil {
		return err
	}
	s.nc = nc
	s.taskQueue = queue.NewNATSQueue(nc,
		queue.WithSubject(cfg.NATSTaskSubject),
		queue.WithNATSLogger(s.logger.Named("queue")),
	)
	return nil
}

func schedules(cfg *config.Config) []scheduler.Schedule {
	return []scheduler.Schedule{
		{Spec: cfg.ScheduleRebuildGlobal, Jobs: []string{jobs.RebuildGlobal}},
		{Spec: cfg.SchedulePrecacheUsers, Jobs: []string{jobs.PrecacheUsers}},
		{Spec: cfg.ScheduleTrending, Jobs: []string{jobs.RecomputeTrending}},
		{Spec: cfg.ScheduleClearStale, Jobs: []string{jobs.ClearStaleUserCache}},
		{Spec: cfg.ScheduleListings, Jobs: []string{jobs.PrecacheDestinationListings, jobs.PrecacheCategoryListings}},
	}
}

func (s *Service) buildTree() *supervisor.Tree {
	tree := supervisor.NewTree(logger.Slog(), supervisor.TreeConfig{ShutdownTimeout: s.cfg.ShutdownTimeout})

	tree.AddDataService(services.NewTickerService("cache-maintenance", cacheMaintenanceInterval, s.maintainCache, s.logger))
	tree.AddDataService(services.NewTickerService("system-metrics", systemMetricsInterval, services.SampleSystemMetrics, s.logger))

	tree.AddMessagingService(services.NewRunnerService("worker-pool", s.pool, s.cfg.ShutdownTimeout))
	tree.AddMessagingService(s.scheduler)
	if s.hooks != nil {
		tree.AddMessagingService(s.hooks)
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, s.cfg.ShutdownTimeout))
	return tree
}

// maintainCache drops expired entries from the memory backend or runs
// badger's value log GC.
func (s *Service) maintainCache(ctx context.Context) error {
	switch b := s.backend.(type) {
	case *cache.MemoryBackend:
		if n := b.Sweep(); n > 0 {
			s.logger.Debug(ctx, "expired cache entries swept", logger.Int("keys", n))
		}
	case *cache.BadgerBackend:
		return b.RunGC()
	}
	return nil
}

// warm runs the boot jobs inline so the first requests hit a populated
// cache. Failures are logged; the periodic schedule will retry.
func (s *Service) warm(ctx context.Context) {
	for _, name := range bootJobs {
		if err := s.runner.Run(ctx, queue.Task{Name: name}); err != nil {
			s.logger.Warn(ctx, "boot job failed", logger.String("job", name), logger.Error(err))
		}
	}
}

// Stop shuts the supervisor tree down and releases every resource.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping voyage service...")

	s.cancel()
	var err error
	select {
	case serveErr := <-s.done:
		if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			err = fmt.Errorf("supervisor: %w", serveErr)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if report, rerr := s.tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		s.logger.Warn(ctx, "services did not stop in time", logger.Int("count", len(report)))
	}

	err = errors.Join(err, s.release(ctx))
	s.started = false
	s.logger.Info(ctx, "voyage service stopped")
	return err
}

// release closes whatever build managed to open, in reverse order.
func (s *Service) release(ctx context.Context) error {
	var errs []error
	if s.taskQueue != nil {
		errs = append(errs, s.taskQueue.Close())
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.embedded != nil {
		errs = append(errs, s.embedded.Shutdown(ctx))
	}
	if s.tiers != nil {
		errs = append(errs, s.tiers.Close())
	} else if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP API. Nil before Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// Recommender returns the core service. Nil before Start.
func (s *Service) Recommender() *recommend.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.core
}

// NATS returns the bus connection, or nil when tasks run in memory.
func (s *Service) NATS() *nats.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nc
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"workerCount":  s.cfg.WorkerCount,
		"queueBackend": s.cfg.QueueBackend,
		"cacheBackend": s.cfg.CacheBackend,
	}
	if s.started {
		for k, v := range s.core.GetStats(ctx) {
			stats[k] = v
		}
		stats["scheduled"] = len(s.scheduler.Entries())
		metrics.UpdateWorkerCount(s.cfg.WorkerCount)
	}
	return stats
}
