// Package recommend is the recommendation façade: the only component request
// handlers talk to. Reads are served from the cache tiers and never compute;
// writes append to the interaction log and fire the invalidation hooks.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/voyage/internal/adapters/cache"
	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/adapters/repository"
	"github.com/okian/voyage/internal/domain/dedupe"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/internal/jobs"
	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

// Default limits.
const (
	DefaultLimit         = 5
	MaxLimit             = 20
	DefaultTrendingLimit = 10
)

// Store is the persistence the façade touches directly.
type Store interface {
	AppendInteraction(ctx context.Context, e model.InteractionEvent) error
	SaveRating(ctx context.Context, r model.Rating) error
	TopTrending(ctx context.Context, n int) ([]types.TrendingEntry, error)
	repository.ListingSource
}

// Cache is the slice of the cache tier manager the façade uses.
type Cache interface {
	GetEntries(ctx context.Context, key string) ([]types.Entry, bool)
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
	InvalidateUser(ctx context.Context, userID string) error
	BreakerState() string
}

// Queue accepts recompute tasks.
type Queue interface {
	Enqueue(ctx context.Context, t queue.Task) bool
	Len(ctx context.Context) int
}

// Service implements the read path, the tracking write path and the
// invalidation hooks.
type Service struct {
	store    Store
	cache    Cache
	queue    Queue
	events   dedupe.Deduper
	inflight dedupe.Deduper
	log      logger.Logger
	now      func() time.Time

	defaultLimit          int
	maxLimit              int
	trendingLimit         int
	destinationListingTTL time.Duration
	categoryListingTTL    time.Duration
}

// New creates the façade.
func New(store Store, c Cache, q Queue, opts ...Option) *Service {
	s := &Service{
		store:                 store,
		cache:                 c,
		queue:                 q,
		log:                   logger.Nop(),
		now:                   time.Now,
		defaultLimit:          DefaultLimit,
		maxLimit:              MaxLimit,
		trendingLimit:         DefaultTrendingLimit,
		destinationListingTTL: time.Minute,
		categoryListingTTL:    time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = dedupe.NewInMemoryDeduper()
	}
	if s.inflight == nil {
		s.inflight = dedupe.NewInMemoryDeduper()
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	return s
}

// ParseLimit turns a raw limit parameter into a list length. Missing or
// non-numeric input yields the default; numbers are clamped to [1, max].
func (s *Service) ParseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return s.defaultLimit
	}
	return s.clamp(n)
}

func (s *Service) clamp(n int) int {
	return max(1, min(n, s.maxLimit))
}

// GetRecommendations returns the cached ranking for kind. Anonymous actors
// read the global list; users read their own list and, on a miss, get an
// empty answer while a precompute task is queued. Nothing is computed here.
func (s *Service) GetRecommendations(ctx context.Context, kind model.Kind, actor model.Actor, limit int) (types.Recommendations, error) {
	if kind != model.KindDestination && kind != model.KindItinerary {
		return types.Recommendations{}, fmt.Errorf("%w: %q", model.ErrUnknownKind, kind)
	}
	limit = s.clamp(limit)
	actor = actor.Normalize()

	key := cache.GlobalKey(kind)
	if actor.IsUser() {
		key = cache.UserKey(actor.UserID, kind)
	}
	entries, ok := s.cache.GetEntries(ctx, key)
	if !ok {
		if actor.IsUser() {
			s.requestUserPrecache(ctx, actor.UserID)
		}
		return types.Recommendations{Recommended: []types.Entry{}, All: []types.Entry{}}, nil
	}
	return types.Recommendations{Recommended: types.Head(entries, limit), All: entries}, nil
}

// requestUserPrecache enqueues one precompute task per user at a time. The
// runner releases the marker when the task ends.
func (s *Service) requestUserPrecache(ctx context.Context, userID string) {
	if s.inflight.SeenAndRecord(ctx, userID) {
		metrics.RecordTaskCoalesced()
		return
	}
	t := queue.Task{ID: uuid.NewString(), Name: jobs.PrecacheSingleUser, UserID: userID}
	if !s.queue.Enqueue(ctx, t) {
		s.inflight.Unrecord(ctx, userID)
		s.log.Warn(ctx, "user precache not queued", logger.String("user", userID))
	}
}

// Trending returns destinations by persisted trending score. A non-positive
// limit uses the default.
func (s *Service) Trending(ctx context.Context, limit int) ([]types.TrendingEntry, error) {
	if limit <= 0 {
		limit = s.trendingLimit
	}
	return s.store.TopTrending(ctx, limit)
}

// Track appends an interaction. Events carrying an id already seen are
// dropped and reported as duplicates. A dwell by a user invalidates that
// user's cached recommendations.
func (s *Service) Track(ctx context.Context, e model.InteractionEvent) (bool, error) {
	e.Actor = e.Actor.Normalize()
	if e.TS.IsZero() {
		e.TS = s.now()
	}
	if err := e.Validate(); err != nil {
		return false, err
	}

	dedupeByID := e.ID != ""
	if dedupeByID && s.events.SeenAndRecord(ctx, e.ID) {
		metrics.RecordInteractionDuplicate()
		return true, nil
	}
	if !dedupeByID {
		e.ID = uuid.NewString()
	}

	if err := s.store.AppendInteraction(ctx, e); err != nil {
		if dedupeByID {
			s.events.Unrecord(ctx, e.ID)
		}
		return false, fmt.Errorf("track %s: %w", e.Action, err)
	}
	metrics.RecordInteraction(string(e.Action))

	if e.Action == model.ActionDwell && e.Actor.IsUser() {
		if err := s.OnUserSignal(ctx, e.Actor.UserID); err != nil {
			s.log.Warn(ctx, "user cache invalidation failed", logger.String("user", e.Actor.UserID), logger.Error(err))
		}
	}
	return false, nil
}

// Rate stores a rating from an authenticated user and invalidates that
// user's cached recommendations.
func (s *Service) Rate(ctx context.Context, r model.Rating) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveRating(ctx, r); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	metrics.RecordRating()

	if err := s.OnUserSignal(ctx, r.UserID); err != nil {
		s.log.Warn(ctx, "user cache invalidation failed", logger.String("user", r.UserID), logger.Error(err))
	}
	return nil
}

// OnDestinationChanged drops every destination listing and queues a global
// rebuild plus a listing precompute. The delete happens before the call
// returns.
func (s *Service) OnDestinationChanged(ctx context.Context) error {
	n, err := s.cache.InvalidatePrefix(ctx, cache.PrefixDestinations)
	if err != nil {
		return fmt.Errorf("invalidate destination listings: %w", err)
	}
	metrics.RecordCacheInvalidation("destination_changed")
	s.log.Debug(ctx, "destination listings invalidated", logger.Int("keys", n))
	return errors.Join(
		s.TriggerJob(ctx, jobs.RebuildGlobal),
		s.TriggerJob(ctx, jobs.PrecacheDestinationListings),
	)
}

// OnCategoryChanged queues the category listing precompute, which
// overwrites every category entry.
func (s *Service) OnCategoryChanged(ctx context.Context) error {
	metrics.RecordCacheInvalidation("category_changed")
	return s.TriggerJob(ctx, jobs.PrecacheCategoryListings)
}

// OnUserSignal deletes the user's two cached lists. The global lists are
// never touched.
func (s *Service) OnUserSignal(ctx context.Context, userID string) error {
	if userID == "" {
		return model.ErrMissingActor
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	metrics.RecordCacheInvalidation("user_signal")
	return nil
}

// TriggerJob queues job for the workers.
func (s *Service) TriggerJob(ctx context.Context, job string) error {
	if !jobs.Known(job) {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownJob, job)
	}
	if job == jobs.PrecacheSingleUser {
		return fmt.Errorf("%w: %s needs a user", model.ErrMissingActor, job)
	}
	if !s.queue.Enqueue(ctx, queue.Task{ID: uuid.NewString(), Name: job}) {
		return fmt.Errorf("%w: %s", ErrBackpressure, job)
	}
	return nil
}

// Flush deletes every cache entry under prefix and returns how many went.
func (s *Service) Flush(ctx context.Context, prefix string) (int, error) {
	n, err := s.cache.InvalidatePrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	metrics.RecordCacheInvalidation("flush")
	s.log.Info(ctx, "cache flushed", logger.String("prefix", prefix), logger.Int("keys", n))
	return n, nil
}

// DestinationListing serves a destination listing page through the
// request-scoped tier.
func (s *Service) DestinationListing(ctx context.Context, query url.Values) (repository.Page, error) {
	query = keep(query, repository.ParamTrending, repository.ParamCountry, repository.ParamPage, repository.ParamPageSize)
	key := cache.DestinationListingKey(cache.ListingPath(cache.DestinationListingPath, query))
	return s.listing(ctx, key, s.destinationListingTTL, func(ctx context.Context) (repository.Page, error) {
		return s.store.DestinationPage(ctx, repository.ParseDestinationQuery(query))
	})
}

// CategoryListing serves an itineraries-by-category page through the
// request-scoped tier.
func (s *Service) CategoryListing(ctx context.Context, slug string, query url.Values) (repository.Page, error) {
	query = keep(query, repository.ParamDestination, repository.ParamBudgetMax, repository.ParamDurationDays,
		repository.ParamPage, repository.ParamPageSize)
	key := cache.CategoryListingKey(slug, cache.ListingPath(cache.CategoryListingPath(slug), query))
	return s.listing(ctx, key, s.categoryListingTTL, func(ctx context.Context) (repository.Page, error) {
		return s.store.CategoryPage(ctx, slug, repository.ParseCategoryQuery(query))
	})
}

func (s *Service) listing(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (repository.Page, error)) (repository.Page, error) {
	var page repository.Page
	if s.cache.Get(ctx, key, &page) {
		return page, nil
	}
	page, err := load(ctx)
	if err != nil {
		return repository.Page{}, err
	}
	if err := s.cache.Set(ctx, key, page, ttl); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		s.log.Warn(ctx, "listing not cached", logger.String("key", key), logger.Error(err))
	}
	return page, nil
}

// keep drops query parameters the listing ignores so they cannot split the cache.
func keep(q url.Values, names ...string) url.Values {
	out := url.Values{}
	for _, n := range names {
		if v := q.Get(n); v != "" {
			out.Set(n, v)
		}
	}
	return out
}

// GetStats reports service state for the stats endpoint.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	queueLen := s.queue.Len(ctx)
	metrics.UpdateQueueSize(queueLen)
	return map[string]any{
		"queueLength":   queueLen,
		"dedupeSize":    s.events.Size(),
		"inflightUsers": s.inflight.Size(),
		"cacheBreaker":  s.cache.BreakerState(),
		"defaultLimit":  s.defaultLimit,
		"maxLimit":      s.maxLimit,
		"trendingLimit": s.trendingLimit,
	}
}
