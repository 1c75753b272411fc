// Package metrics provides Prometheus metrics for the voyage recommendation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace string
	subsystem string
	registry  prometheus.Registerer

	// Signals
	interactionsRecorded  *prometheus.CounterVec
	interactionsDuplicate prometheus.Counter
	ratingsRecorded       prometheus.Counter

	// Cache tiers
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheBreakerOpen   prometheus.Gauge

	// Recompute jobs
	jobRuns               *prometheus.CounterVec
	jobFailures           *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	trendingDestinations  prometheus.Gauge
	precachedUsers        prometheus.Counter
	listingEntriesWritten *prometheus.CounterVec

	// Task queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	tasksCoalesced     prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorByEndpoint     *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "voyage",
		subsystem: "recommend",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.interactionsRecorded = m.counterVec("interactions_recorded_total", "Interaction events appended to the log", "action")
	m.interactionsDuplicate = m.counter("interactions_duplicate_total", "Interaction events dropped as duplicates")
	m.ratingsRecorded = m.counter("ratings_recorded_total", "Ratings accepted from authenticated users")

	m.cacheHits = m.counterVec("cache_hits_total", "Cache hits per tier", "tier")
	m.cacheMisses = m.counterVec("cache_misses_total", "Cache misses per tier", "tier")
	m.cacheErrors = m.counterVec("cache_errors_total", "Cache backend errors per operation", "op")
	m.cacheInvalidations = m.counterVec("cache_invalidations_total", "Cache invalidations by trigger", "reason")
	m.cacheBreakerOpen = m.gauge("cache_breaker_open", "1 while the cache circuit breaker is open")

	m.jobRuns = m.counterVec("job_runs_total", "Recompute job executions", "job")
	m.jobFailures = m.counterVec("job_failures_total", "Recompute job failures", "job")
	m.jobDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_duration_seconds",
		Help:      "Recompute job duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	m.trendingDestinations = m.gauge("trending_destinations", "Destinations updated by the last trending recompute")
	m.precachedUsers = m.counter("precached_users_total", "Per-user recommendation entries written")
	m.listingEntriesWritten = m.counterVec("listing_entries_written_total", "Listing cache entries written by precompute", "listing")

	m.queueSize = m.gauge("queue_size", "Tasks waiting in the work queue")
	m.queueCapacity = m.gauge("queue_capacity", "Work queue capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Tasks accepted by the work queue")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Tasks rejected by the work queue")
	m.tasksCoalesced = m.counter("tasks_coalesced_total", "Single-user tasks dropped because one is already in flight")

	m.workerCount = m.gauge("worker_count", "Running task workers")
	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Task processing latency in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	m.workerErrors = m.counter("worker_errors_total", "Tasks that could not be dispatched")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorByEndpoint = m.counterVec("http_errors_total", "HTTP error responses", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Live goroutines")
}

func on() bool { return globalManager != nil }

// RecordInteraction counts an appended interaction event.
func RecordInteraction(action string) {
	if on() {
		globalManager.interactionsRecorded.WithLabelValues(action).Inc()
	}
}

// RecordInteractionDuplicate counts an event dropped by the deduper.
func RecordInteractionDuplicate() {
	if on() {
		globalManager.interactionsDuplicate.Inc()
	}
}

// RecordRating counts an accepted rating.
func RecordRating() {
	if on() {
		globalManager.ratingsRecorded.Inc()
	}
}

// RecordCacheHit counts a hit on the given tier.
func RecordCacheHit(tier string) {
	if on() {
		globalManager.cacheHits.WithLabelValues(tier).Inc()
	}
}

// RecordCacheMiss counts a miss on the given tier.
func RecordCacheMiss(tier string) {
	if on() {
		globalManager.cacheMisses.WithLabelValues(tier).Inc()
	}
}

// RecordCacheError counts a swallowed backend error.
func RecordCacheError(op string) {
	if on() {
		globalManager.cacheErrors.WithLabelValues(op).Inc()
	}
}

// RecordCacheInvalidation counts an invalidation by trigger.
func RecordCacheInvalidation(reason string) {
	if on() {
		globalManager.cacheInvalidations.WithLabelValues(reason).Inc()
	}
}

// SetCacheBreakerOpen flags the breaker state.
func SetCacheBreakerOpen(open bool) {
	if !on() {
		return
	}
	if open {
		globalManager.cacheBreakerOpen.Set(1)
		return
	}
	globalManager.cacheBreakerOpen.Set(0)
}

// RecordJobRun records a job execution and its duration in seconds.
func RecordJobRun(job string, seconds float64) {
	if on() {
		globalManager.jobRuns.WithLabelValues(job).Inc()
		globalManager.jobDuration.WithLabelValues(job).Observe(seconds)
	}
}

// RecordJobFailure counts a failed job execution.
func RecordJobFailure(job string) {
	if on() {
		globalManager.jobFailures.WithLabelValues(job).Inc()
	}
}

// UpdateTrendingDestinations sets how many destinations the last recompute touched.
func UpdateTrendingDestinations(n int) {
	if on() {
		globalManager.trendingDestinations.Set(float64(n))
	}
}

// RecordPrecachedUser counts a per-user entry write.
func RecordPrecachedUser() {
	if on() {
		globalManager.precachedUsers.Inc()
	}
}

// RecordListingEntries counts listing entries written by a precompute.
func RecordListingEntries(listing string, n int) {
	if on() {
		globalManager.listingEntriesWritten.WithLabelValues(listing).Add(float64(n))
	}
}

// UpdateQueueSize sets the current queue depth.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted task.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueEnqueueError counts a rejected task.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordTaskCoalesced counts a single-user task that was already in flight.
func RecordTaskCoalesced() {
	if on() {
		globalManager.tasksCoalesced.Inc()
	}
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency observes task latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts an undispatchable task.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByEndpoint counts an error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets heap bytes in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
