package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithClock sets the time source used to stamp events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTrendingCacheSize sets how many leading trending entries are kept in
// the lock-free snapshot.
func WithTrendingCacheSize(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.trendingCacheSize = n
		}
	}
}

// WithCatalog seeds the catalog.
func WithCatalog(c CatalogData) Option {
	return func(s *MemoryStore) {
		s.seed = &c
	}
}
