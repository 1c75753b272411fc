// Package scoring ranks destinations and itineraries from interaction signals.
package scoring

import (
	"sort"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/signals"
	"github.com/okian/voyage/internal/domain/types"
)

// Default relevance weights.
const (
	defaultViewWeight       = 0.2
	defaultDwellWeight      = 0.4
	defaultClickWeight      = 0.3
	defaultPopularityWeight = 0.1

	// Trending weights: clicks count double, dwell is measured in minutes.
	trendingClickWeight  = 2.0
	trendingDwellDivisor = 60.0
)

// Weights are the linear coefficients of the relevance score.
type Weights struct {
	View       float64
	Dwell      float64
	Click      float64
	Popularity float64
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		View:       defaultViewWeight,
		Dwell:      defaultDwellWeight,
		Click:      defaultClickWeight,
		Popularity: defaultPopularityWeight,
	}
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWeights overrides the relevance weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) {
		e.weights = w
	}
}

// SignalLookup is satisfied by signals.Signals.
type SignalLookup interface {
	SignalFor(subjectID string) model.SignalTuple
}

// Engine computes scores and ordered lists. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	weights Weights
}

// NewEngine creates a scoring engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DestinationScore is views, average dwell and clicks weighted linearly.
func (e *Engine) DestinationScore(sig model.SignalTuple) float64 {
	return e.weights.View*float64(sig.Views) +
		e.weights.Dwell*sig.AvgDwell +
		e.weights.Click*float64(sig.Clicks)
}

// ItineraryScore uses the signals of the itinerary's destination plus its popularity.
func (e *Engine) ItineraryScore(sig model.SignalTuple, popularity float64) float64 {
	return e.DestinationScore(sig) + e.weights.Popularity*popularity
}

// RankDestinations returns every destination ordered by score desc, id asc.
// When every score is zero the list falls back to trending score desc.
func (e *Engine) RankDestinations(dests []model.Destination, sig SignalLookup) []types.Entry {
	out := make([]types.Entry, 0, len(dests))
	cold := true
	for _, d := range dests {
		s := e.DestinationScore(sig.SignalFor(d.ID))
		if s != 0 {
			cold = false
		}
		out = append(out, types.Entry{
			ID:            d.ID,
			Name:          d.Name,
			Slug:          d.Slug,
			Score:         s,
			TrendingScore: d.TrendingScore,
		})
	}

	if cold {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].TrendingScore != out[j].TrendingScore {
				return out[i].TrendingScore > out[j].TrendingScore
			}
			return out[i].ID < out[j].ID
		})
		return out
	}
	sortByScore(out)
	return out
}

// RankItineraries returns every itinerary ordered by score desc, id asc.
// When every score is zero the list falls back to popularity desc, then the
// trending order of each itinerary's destination.
func (e *Engine) RankItineraries(itins []model.Itinerary, dests []model.Destination, sig SignalLookup) []types.Entry {
	trending := make(map[string]float64, len(dests))
	for _, d := range dests {
		trending[d.ID] = d.TrendingScore
	}

	out := make([]types.Entry, 0, len(itins))
	cold := true
	for _, it := range itins {
		s := e.ItineraryScore(sig.SignalFor(it.DestinationID), it.PopularityScore)
		if s != 0 {
			cold = false
		}
		out = append(out, types.Entry{
			ID:              it.ID,
			Name:            it.Title,
			Slug:            it.Slug,
			DestinationID:   it.DestinationID,
			Score:           s,
			TrendingScore:   trending[it.DestinationID],
			PopularityScore: it.PopularityScore,
		})
	}

	if cold {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if a.PopularityScore != b.PopularityScore {
				return a.PopularityScore > b.PopularityScore
			}
			if a.TrendingScore != b.TrendingScore {
				return a.TrendingScore > b.TrendingScore
			}
			return a.ID < b.ID
		})
		return out
	}
	sortByScore(out)
	return out
}

func sortByScore(entries []types.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})
}

// TrendingScore is views + 2*clicks + dwell minutes over the trending window.
func TrendingScore(t signals.Totals) float64 {
	return float64(t.Views) + trendingClickWeight*float64(t.Clicks) + t.DwellSeconds/trendingDwellDivisor
}
