package jobs

import (
	"time"

	"github.com/okian/voyage/internal/domain/dedupe"
	"github.com/okian/voyage/internal/domain/scoring"
	"github.com/okian/voyage/pkg/logger"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock sets the time source for windows and cutoffs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEngine replaces the scoring engine.
func WithEngine(e *scoring.Engine) Option {
	return func(r *Runner) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithInflight shares the deduper the read path uses to coalesce
// single-user precompute requests.
func WithInflight(d dedupe.Deduper) Option {
	return func(r *Runner) { r.inflight = d }
}

// WithTrendingWindow sets the trending lookback.
func WithTrendingWindow(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.trendingWindow = d
		}
	}
}

// WithActiveUserWindow sets the default cutoff for PrecacheUsers.
func WithActiveUserWindow(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.activeUserWindow = d
		}
	}
}

// WithListingTTLs sets the lifetimes of precomputed listing entries. Zero
// stores entries without expiry.
func WithListingTTLs(destinations, categories time.Duration) Option {
	return func(r *Runner) {
		r.destinationListingTTL = destinations
		r.categoryListingTTL = categories
	}
}
