// Package jobs holds the recompute jobs that keep the recommendation and
// listing caches eventually consistent with the interaction log.
//
// Every job is idempotent: it computes a full result before writing and then
// overwrites whole cache entries, so a crashed or repeated run is harmless
// and a failed run leaves the previous cache content in place.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/voyage/internal/adapters/cache"
	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/adapters/repository"
	"github.com/okian/voyage/internal/domain/dedupe"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/scoring"
	"github.com/okian/voyage/internal/domain/signals"
	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

// Job names. They are the task names on the queue and the names accepted by
// the admin endpoint and CLI.
const (
	RebuildGlobal               = "rebuild_global"
	PrecacheUsers               = "precache_users"
	PrecacheSingleUser          = "precache_single_user"
	RecomputeTrending           = "recompute_trending"
	ClearStaleUserCache         = "clear_stale_user_cache"
	PrecacheDestinationListings = "precache_destination_listings"
	PrecacheCategoryListings    = "precache_category_listings"
)

// Names lists every job in a stable order.
func Names() []string {
	return []string{
		RebuildGlobal,
		PrecacheUsers,
		PrecacheSingleUser,
		RecomputeTrending,
		ClearStaleUserCache,
		PrecacheDestinationListings,
		PrecacheCategoryListings,
	}
}

// Known reports whether name is a job.
func Known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Listing precompute cross-products.
var (
	destinationPages     = []int{1, 2, 3}
	destinationPageSizes = []int{10, 25}
	categoryBudgets      = []int{0, 10000, 25000, 50000, 100000}
	categoryDurations    = []int{0, 3, 5, 7}
	categoryPages        = []int{1, 2}
	categoryPageSizes    = []int{10, 25}
)

// Source is everything the jobs read from and write to persistence.
type Source interface {
	signals.EventSource
	repository.Catalog
	repository.ListingSource
	UpdateTrendingScores(ctx context.Context, scores map[string]float64) error
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// Cache is the slice of the cache tier manager the jobs write through.
type Cache interface {
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
	UserTTL() time.Duration
}

// Runner executes jobs.
type Runner struct {
	src      Source
	cache    Cache
	agg      *signals.Aggregator
	engine   *scoring.Engine
	inflight dedupe.Deduper
	log      logger.Logger
	now      func() time.Time

	trendingWindow   time.Duration
	activeUserWindow time.Duration

	// Zero stores precomputed listings without expiry.
	destinationListingTTL time.Duration
	categoryListingTTL    time.Duration
}

// NewRunner creates a Runner.
func NewRunner(src Source, c Cache, opts ...Option) *Runner {
	r := &Runner{
		src:                   src,
		cache:                 c,
		engine:                scoring.NewEngine(),
		log:                   logger.Nop(),
		now:                   time.Now,
		trendingWindow:        7 * 24 * time.Hour,
		activeUserWindow:      7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.agg = signals.NewAggregator(src, signals.WithClock(r.now))
	return r
}

// Handle runs a queued task. It satisfies worker.Handler.
func (r *Runner) Handle(ctx context.Context, t queue.Task) error { //nolint:gocritic // hugeParam: Task arrives by value from the queue
	return r.Run(ctx, t)
}

// Run executes the job named by t, recording its duration and outcome.
// Panics are converted to errors.
func (r *Runner) Run(ctx context.Context, t queue.Task) (err error) { //nolint:gocritic // hugeParam: Task arrives by value from the queue
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, t.Name, p)
		}
		metrics.RecordJobRun(t.Name, time.Since(start).Seconds())
		if err != nil {
			metrics.RecordJobFailure(t.Name)
		}
	}()

	switch t.Name {
	case RebuildGlobal:
		return r.RebuildGlobal(ctx)
	case PrecacheUsers:
		return r.PrecacheUsers(ctx, t.ActiveSince)
	case PrecacheSingleUser:
		return r.PrecacheSingleUser(ctx, t.UserID)
	case RecomputeTrending:
		return r.RecomputeTrending(ctx)
	case ClearStaleUserCache:
		return r.ClearStaleUserCache(ctx)
	case PrecacheDestinationListings:
		return r.PrecacheDestinationListings(ctx)
	case PrecacheCategoryListings:
		return r.PrecacheCategoryListings(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, t.Name)
}

type catalog struct {
	dests []model.Destination
	itins []model.Itinerary
}

func (r *Runner) loadCatalog(ctx context.Context) (catalog, error) {
	dests, err := r.src.ListDestinations(ctx)
	if err != nil {
		return catalog{}, fmt.Errorf("list destinations: %w", err)
	}
	itins, err := r.src.ListItineraries(ctx)
	if err != nil {
		return catalog{}, fmt.Errorf("list itineraries: %w", err)
	}
	return catalog{dests: dests, itins: itins}, nil
}

// rank computes both ordered lists for scope without writing anything.
func (r *Runner) rank(ctx context.Context, c catalog, scope signals.Scope) ([]types.Entry, []types.Entry, error) {
	sig, err := r.agg.Aggregate(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	return r.engine.RankDestinations(c.dests, sig), r.engine.RankItineraries(c.itins, c.dests, sig), nil
}

// Compute ranks destinations and itineraries for scope. It is the synchronous
// path used by operator tooling; the request path never calls it.
func (r *Runner) Compute(ctx context.Context, scope signals.Scope) (types.Recommendations, types.Recommendations, error) {
	c, err := r.loadCatalog(ctx)
	if err != nil {
		return types.Recommendations{}, types.Recommendations{}, err
	}
	dests, itins, err := r.rank(ctx, c, scope)
	if err != nil {
		return types.Recommendations{}, types.Recommendations{}, err
	}
	return types.Recommendations{All: dests}, types.Recommendations{All: itins}, nil
}

// RebuildGlobal recomputes the global rankings and overwrites both global keys.
func (r *Runner) RebuildGlobal(ctx context.Context) error {
	c, err := r.loadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("rebuild global: %w", err)
	}
	dests, itins, err := r.rank(ctx, c, signals.Global())
	if err != nil {
		return fmt.Errorf("rebuild global: %w", err)
	}
	if err := errors.Join(
		r.cache.Set(ctx, cache.GlobalKey(model.KindDestination), dests, 0),
		r.cache.Set(ctx, cache.GlobalKey(model.KindItinerary), itins, 0),
	); err != nil {
		return fmt.Errorf("rebuild global: %w", err)
	}
	r.log.Info(ctx, "global recommendations rebuilt",
		logger.Int("destinations", len(dests)),
		logger.Int("itineraries", len(itins)))
	return nil
}

func (r *Runner) precacheUser(ctx context.Context, c catalog, userID string) error {
	dests, itins, err := r.rank(ctx, c, signals.ForActor(model.Actor{UserID: userID}))
	if err != nil {
		return err
	}
	ttl := r.cache.UserTTL()
	if err := errors.Join(
		r.cache.Set(ctx, cache.UserKey(userID, model.KindDestination), dests, ttl),
		r.cache.Set(ctx, cache.UserKey(userID, model.KindItinerary), itins, ttl),
	); err != nil {
		return err
	}
	metrics.RecordPrecachedUser()
	return nil
}

// PrecacheUsers warms both per-user keys for every user active since
// activeSince. A zero activeSince uses the configured active-user window.
// One failing user does not stop the sweep.
func (r *Runner) PrecacheUsers(ctx context.Context, activeSince time.Time) error {
	if activeSince.IsZero() {
		activeSince = r.now().Add(-r.activeUserWindow)
	}
	users, err := r.src.ActiveUsers(ctx, activeSince)
	if err != nil {
		return fmt.Errorf("precache users: %w", err)
	}
	c, err := r.loadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("precache users: %w", err)
	}

	var errs []error
	done := 0
	for _, id := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.precacheUser(ctx, c, id); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		done++
	}
	r.log.Info(ctx, "per-user recommendations precached",
		logger.Int("users", done),
		logger.Int("failed", len(users)-done))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("precache users: %w", err)
	}
	return nil
}

// PrecacheSingleUser warms one user's keys. The user's in-flight marker, set
// by the read path when it enqueued this task, is released when the job ends.
func (r *Runner) PrecacheSingleUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("precache single user: %w", model.ErrMissingActor)
	}
	if r.inflight != nil {
		defer r.inflight.Unrecord(ctx, userID)
	}
	c, err := r.loadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("precache user %s: %w", userID, err)
	}
	if err := r.precacheUser(ctx, c, userID); err != nil {
		return fmt.Errorf("precache user %s: %w", userID, err)
	}
	return nil
}

// RecomputeTrending recomputes every destination's trending score from the
// trending window in one pass. Destinations without events get zero.
func (r *Runner) RecomputeTrending(ctx context.Context) error {
	totals, err := r.agg.Window(ctx, signals.Global(), r.trendingWindow)
	if err != nil {
		return fmt.Errorf("recompute trending: %w", err)
	}
	dests, err := r.src.ListDestinations(ctx)
	if err != nil {
		return fmt.Errorf("recompute trending: list destinations: %w", err)
	}
	scores := make(map[string]float64, len(dests))
	for _, d := range dests {
		scores[d.ID] = scoring.TrendingScore(totals[d.ID])
	}
	if err := r.src.UpdateTrendingScores(ctx, scores); err != nil {
		return fmt.Errorf("recompute trending: %w", err)
	}
	metrics.UpdateTrendingDestinations(len(scores))
	r.log.Info(ctx, "trending scores recomputed", logger.Int("destinations", len(scores)))
	return nil
}

// ClearStaleUserCache deletes every per-user recommendation entry.
func (r *Runner) ClearStaleUserCache(ctx context.Context) error {
	n, err := r.cache.InvalidatePrefix(ctx, cache.PrefixUser)
	if err != nil {
		return fmt.Errorf("clear stale user cache: %w", err)
	}
	metrics.RecordCacheInvalidation("stale_sweep")
	r.log.Info(ctx, "stale per-user entries cleared", logger.Int("keys", n))
	return nil
}

// DestinationListingVariants returns the query strings warmed for the
// destination listing: default, trending and one per country, each across
// the page and page size grid.
func DestinationListingVariants(countries []string) []url.Values {
	bases := []url.Values{{}, {repository.ParamTrending: {"true"}}}
	for _, c := range countries {
		bases = append(bases, url.Values{repository.ParamCountry: {c}})
	}
	out := make([]url.Values, 0, len(bases)*len(destinationPages)*len(destinationPageSizes))
	for _, b := range bases {
		for _, page := range destinationPages {
			for _, size := range destinationPageSizes {
				v := cloneValues(b)
				v.Set(repository.ParamPage, strconv.Itoa(page))
				v.Set(repository.ParamPageSize, strconv.Itoa(size))
				out = append(out, v)
			}
		}
	}
	return out
}

// CategoryListingVariants returns the query strings warmed for one category
// across destinations, budget caps, durations, pages and page sizes. Zero
// budget or duration means the filter is omitted.
func CategoryListingVariants(destinationSlugs []string) []url.Values {
	out := make([]url.Values, 0, len(destinationSlugs)*len(categoryBudgets)*len(categoryDurations)*len(categoryPages)*len(categoryPageSizes))
	for _, slug := range destinationSlugs {
		for _, budget := range categoryBudgets {
			for _, days := range categoryDurations {
				for _, page := range categoryPages {
					for _, size := range categoryPageSizes {
						v := url.Values{}
						v.Set(repository.ParamDestination, slug)
						if budget > 0 {
							v.Set(repository.ParamBudgetMax, strconv.Itoa(budget))
						}
						if days > 0 {
							v.Set(repository.ParamDurationDays, strconv.Itoa(days))
						}
						v.Set(repository.ParamPage, strconv.Itoa(page))
						v.Set(repository.ParamPageSize, strconv.Itoa(size))
						out = append(out, v)
					}
				}
			}
		}
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// PrecacheDestinationListings renders and stores every destination listing variant.
func (r *Runner) PrecacheDestinationListings(ctx context.Context) error {
	countries, err := r.src.ListCountries(ctx)
	if err != nil {
		return fmt.Errorf("precache destination listings: %w", err)
	}
	var errs []error
	written := 0
	for _, v := range DestinationListingVariants(countries) {
		page, err := r.src.DestinationPage(ctx, repository.ParseDestinationQuery(v))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := cache.DestinationListingKey(cache.ListingPath(cache.DestinationListingPath, v))
		if err := r.cache.Set(ctx, key, page, r.destinationListingTTL); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	metrics.RecordListingEntries("destinations", written)
	r.log.Info(ctx, "destination listings precached", logger.Int("entries", written))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("precache destination listings: %w", err)
	}
	return nil
}

// PrecacheCategoryListings renders and stores every itineraries-by-category
// listing variant.
func (r *Runner) PrecacheCategoryListings(ctx context.Context) error {
	categories, err := r.src.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("precache category listings: %w", err)
	}
	dests, err := r.src.ListDestinations(ctx)
	if err != nil {
		return fmt.Errorf("precache category listings: %w", err)
	}
	slugs := make([]string, len(dests))
	for i, d := range dests {
		slugs[i] = d.Slug
	}
	variants := CategoryListingVariants(slugs)

	var errs []error
	written := 0
	for _, cat := range categories {
		path := cache.CategoryListingPath(cat.Slug)
		for _, v := range variants {
			if ctx.Err() != nil {
				return fmt.Errorf("precache category listings: %w", ctx.Err())
			}
			page, err := r.src.CategoryPage(ctx, cat.Slug, repository.ParseCategoryQuery(v))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			key := cache.CategoryListingKey(cat.Slug, cache.ListingPath(path, v))
			if err := r.cache.Set(ctx, key, page, r.categoryListingTTL); err != nil {
				errs = append(errs, err)
				continue
			}
			written++
		}
	}
	metrics.RecordListingEntries("categories", written)
	r.log.Info(ctx, "category listings precached", logger.Int("entries", written))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("precache category listings: %w", err)
	}
	return nil
}
