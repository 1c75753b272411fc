// Package signals turns the interaction log into per-destination signal tuples.
//
// Personalized scoring reads the full history of one actor. The trending
// recompute reads a bounded window across all actors and needs raw totals
// (summed dwell seconds) rather than averages, so both shapes are exposed.
package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/voyage/internal/domain/model"
)

// EventSource reads the interaction log.
type EventSource interface {
	ListInteractionEvents(ctx context.Context, filter model.EventFilter) ([]model.InteractionEvent, error)
}

// Scope selects whose events are aggregated. The zero value is the global scope.
type Scope struct {
	Actor model.Actor
}

// Global returns the scope that spans every actor.
func Global() Scope { return Scope{} }

// ForActor returns a scope bound to one user or session. User wins when both are set.
func ForActor(a model.Actor) Scope { return Scope{Actor: a.Normalize()} }

// IsGlobal reports whether the scope has no actor filter.
func (s Scope) IsGlobal() bool { return s.Actor.IsZero() }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return s.Actor.String()
}

// Totals are raw counters for one subject.
type Totals struct {
	Views        int64
	Clicks       int64
	DwellSeconds float64
	DwellEvents  int64
}

// Tuple derives the signal tuple. Average dwell is zero when no dwell was recorded.
func (t Totals) Tuple() model.SignalTuple {
	avg := 0.0
	if t.DwellEvents > 0 {
		avg = t.DwellSeconds / float64(t.DwellEvents)
	}
	return model.SignalTuple{Views: t.Views, AvgDwell: avg, Clicks: t.Clicks}
}

// Signals maps subject id to its signal tuple.
type Signals map[string]model.SignalTuple

// SignalFor is total: unknown subjects yield the zero tuple.
func (s Signals) SignalFor(subjectID string) model.SignalTuple {
	return s[subjectID]
}

// Empty reports whether no subject has any signal.
func (s Signals) Empty() bool {
	for _, t := range s {
		if !t.IsZero() {
			return false
		}
	}
	return true
}

// Summarize folds events into per-subject totals. Pure.
func Summarize(events []model.InteractionEvent) map[string]Totals {
	out := make(map[string]Totals)
	for _, e := range events {
		t := out[e.SubjectID]
		switch e.Action {
		case model.ActionView:
			t.Views++
		case model.ActionClick:
			t.Clicks++
		case model.ActionDwell:
			t.DwellSeconds += e.Magnitude
			t.DwellEvents++
		default:
			continue
		}
		out[e.SubjectID] = t
	}
	return out
}

// Aggregator reads the log and produces signals for a scope.
type Aggregator struct {
	src EventSource
	now func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for windowed reads.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an Aggregator over src.
func NewAggregator(src EventSource, opts ...Option) *Aggregator {
	a := &Aggregator{src: src, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns all-history signals for scope.
func (a *Aggregator) Aggregate(ctx context.Context, scope Scope) (Signals, error) {
	totals, err := a.read(ctx, scope, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make(Signals, len(totals))
	for id, t := range totals {
		out[id] = t.Tuple()
	}
	return out, nil
}

// Window returns raw totals for events newer than now-window.
func (a *Aggregator) Window(ctx context.Context, scope Scope, window time.Duration) (map[string]Totals, error) {
	return a.read(ctx, scope, a.now().Add(-window))
}

func (a *Aggregator) read(ctx context.Context, scope Scope, since time.Time) (map[string]Totals, error) {
	filter := model.EventFilter{Since: since}
	if !scope.IsGlobal() {
		actor := scope.Actor
		filter.Actor = &actor
	}
	events, err := a.src.ListInteractionEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", scope, err)
	}
	return Summarize(events), nil
}
