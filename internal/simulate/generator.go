package simulate

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/scoring"
	"github.com/okian/voyage/internal/domain/signals"
)

// Action mix and dwell range.
const (
	viewShare   = 0.60
	clickShare  = 0.25
	minDwellSec = 5
	maxDwellSec = 300
)

// Interaction is one tracking call.
type Interaction struct {
	EventID       string  `json:"event_id"`
	DestinationID string  `json:"destination_id"`
	Action        string  `json:"action"`
	DwellTime     float64 `json:"dwell_time,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	Retry         bool    `json:"retry,omitempty"`
}

// Generate builds cfg.Interactions distinct interactions plus retries that
// reuse an earlier event id. Destinations early in the list are picked more
// often so a clear trending order emerges. The same seed yields the same
// traffic shape; event ids are always fresh.
func Generate(cfg Config, destinations []string) ([]Interaction, error) {
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}
	if cfg.Interactions <= 0 {
		return []Interaction{}, nil
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	out := make([]Interaction, 0, cfg.Interactions+int(float64(cfg.Interactions)*cfg.RetryRatio)+1)
	for i := 0; i < cfg.Interactions; i++ {
		in := Interaction{
			EventID:       uuid.NewString(),
			DestinationID: pickDestination(rng, destinations),
		}
		switch r := rng.Float64(); {
		case r < viewShare:
			in.Action = string(model.ActionView)
		case r < viewShare+clickShare:
			in.Action = string(model.ActionClick)
		default:
			in.Action = string(model.ActionDwell)
			in.DwellTime = float64(minDwellSec + rng.IntN(maxDwellSec-minDwellSec+1))
		}
		if cfg.Users > 0 && rng.Float64() < cfg.UserRatio {
			in.UserID = fmt.Sprintf("sim-user-%d", rng.IntN(cfg.Users))
		} else {
			in.SessionID = fmt.Sprintf("sim-session-%d", rng.IntN(max(cfg.Sessions, 1)))
		}
		out = append(out, in)

		if rng.Float64() < cfg.RetryRatio {
			retry := out[rng.IntN(len(out))]
			retry.Retry = true
			out = append(out, retry)
		}
	}
	return out, nil
}

// pickDestination skews toward the head of the list.
func pickDestination(rng *rand.Rand, destinations []string) string {
	u := rng.Float64()
	return destinations[int(u*u*float64(len(destinations)))]
}

// ExpectedTrending folds the interactions into the trending score each
// destination should end up with. Retries count once.
func ExpectedTrending(interactions []Interaction) map[string]float64 {
	seen := make(map[string]struct{}, len(interactions))
	events := make([]model.InteractionEvent, 0, len(interactions))
	for _, in := range interactions {
		if _, dup := seen[in.EventID]; dup {
			continue
		}
		seen[in.EventID] = struct{}{}
		events = append(events, model.InteractionEvent{
			ID:        in.EventID,
			SubjectID: in.DestinationID,
			Action:    model.Action(in.Action),
			Magnitude: in.DwellTime,
		})
	}
	out := make(map[string]float64)
	for id, totals := range signals.Summarize(events) {
		out[id] = scoring.TrendingScore(totals)
	}
	return out
}
