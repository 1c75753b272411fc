package recommend

import (
	"time"

	"github.com/okian/voyage/internal/domain/dedupe"
	"github.com/okian/voyage/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source stamped on tracked events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventDeduper sets the interaction-id deduper.
func WithEventDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.events = d
		}
	}
}

// WithInflight sets the deduper that coalesces single-user precompute
// tasks. The job runner must share it to release markers.
func WithInflight(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.inflight = d
		}
	}
}

// WithLimits sets the default and maximum recommendation list length.
func WithLimits(def, maxLimit int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if def > 0 {
			s.defaultLimit = def
		}
	}
}

// WithTrendingLimit sets the default trending list length.
func WithTrendingLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.trendingLimit = n
		}
	}
}

// WithListingTTLs sets the lifetimes of lazily cached listing pages.
func WithListingTTLs(destinations, categories time.Duration) Option {
	return func(s *Service) {
		if destinations > 0 {
			s.destinationListingTTL = destinations
		}
		if categories > 0 {
			s.categoryListingTTL = categories
		}
	}
}
