package services

import (
	"context"
	"time"
)

// StartStopper is a component started once and stopped on shutdown, like the
// task worker pool.
type StartStopper interface {
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// RunnerService keeps a StartStopper running until ctx ends.
type RunnerService struct {
	name            string
	component       StartStopper
	shutdownTimeout time.Duration
}

// NewRunnerService wraps component under name.
func NewRunnerService(name string, component StartStopper, shutdownTimeout time.Duration) *RunnerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &RunnerService{name: name, component: component, shutdownTimeout: shutdownTimeout}
}

// Serve starts the component, waits for ctx and shuts it down.
func (r *RunnerService) Serve(ctx context.Context) error {
	r.component.Start(ctx)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	if err := r.component.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *RunnerService) String() string { return r.name }
