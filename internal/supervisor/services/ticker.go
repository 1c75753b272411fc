package services

import (
	"context"
	"time"

	"github.com/okian/voyage/pkg/logger"
)

// TickerService calls fn every interval until ctx ends. Errors from fn are
// logged and the loop keeps going.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      logger.Logger
}

// NewTickerService creates a TickerService. A nil logger disables logging.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context) error, l logger.Logger) *TickerService {
	if l == nil {
		l = logger.Nop()
	}
	return &TickerService{name: name, interval: interval, fn: fn, log: l}
}

// Serve runs the loop.
func (s *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.fn(ctx); err != nil {
				s.log.Warn(ctx, "periodic task failed", logger.String("service", s.name), logger.Error(err))
			}
		}
	}
}

func (s *TickerService) String() string { return s.name }
