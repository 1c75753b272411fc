// Package scheduler turns cron expressions into recompute tasks on the work
// queue. It never runs a job itself, so a slow job cannot delay the next tick.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/jobs"
	"github.com/okian/voyage/pkg/logger"
	"github.com/okian/voyage/pkg/metrics"
)

const stopTimeout = 5 * time.Second

// Enqueuer accepts tasks. Satisfied by every queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) bool
}

// Schedule binds a cron expression (with a seconds field) to one or more jobs.
type Schedule struct {
	Spec string
	Jobs []string
}

// Entry describes a registered schedule.
type Entry struct {
	Spec string
	Jobs []string
	Next time.Time
}

// Scheduler fires tasks on cron schedules.
type Scheduler struct {
	q         Enqueuer
	schedules []Schedule
	log       logger.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	entries []rcron.EntryID
}

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// New validates schedules and returns a Scheduler. Schedules with an empty
// spec are disabled and skipped.
func New(q Enqueuer, schedules []Schedule, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{q: q, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	for _, sc := range schedules {
		if sc.Spec == "" {
			continue
		}
		if _, err := parser.Parse(sc.Spec); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, sc.Spec, err)
		}
		for _, name := range sc.Jobs {
			if !jobs.Known(name) {
				return nil, fmt.Errorf("%w: %q", jobs.ErrUnknownJob, name)
			}
		}
		s.schedules = append(s.schedules, sc)
	}
	return s, nil
}

// Trigger enqueues one task for job now. It reports whether the queue took it.
func (s *Scheduler) Trigger(ctx context.Context, job string) bool {
	ok := s.q.Enqueue(ctx, queue.Task{ID: uuid.NewString(), Name: job})
	if !ok {
		metrics.RecordQueueEnqueueError()
		s.log.Warn(ctx, "scheduled task rejected", logger.String("job", job))
		return false
	}
	s.log.Debug(ctx, "scheduled task enqueued", logger.String("job", job))
	return true
}

// Entries lists the active schedules ordered by next run. Empty until Serve runs.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.entries))
	for i, id := range s.entries {
		out = append(out, Entry{Spec: s.schedules[i].Spec, Jobs: s.schedules[i].Jobs, Next: s.cron.Entry(id).Next})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Serve runs the cron loop until ctx ends. A fresh cron instance is built on
// every call so a supervisor restart does not register schedules twice.
func (s *Scheduler) Serve(ctx context.Context) error {
	c := rcron.New(rcron.WithParser(parser))
	ids := make([]rcron.EntryID, 0, len(s.schedules))
	for _, sc := range s.schedules {
		id, err := c.AddFunc(sc.Spec, func() {
			for _, name := range sc.Jobs {
				s.Trigger(ctx, name)
			}
		})
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, sc.Spec, err)
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.cron = c
	s.entries = ids
	s.mu.Unlock()

	c.Start()
	s.log.Info(ctx, "scheduler started", logger.Int("schedules", len(s.schedules)))

	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.log.Warn(context.Background(), "scheduler stop timed out")
	}

	s.mu.Lock()
	s.cron = nil
	s.entries = nil
	s.mu.Unlock()
	s.log.Info(context.Background(), "scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) String() string { return "scheduler" }
