package simulate

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/pkg/logger"
)

// Run tuning.
const (
	discoverPageSize  = 100
	pollInterval      = 250 * time.Millisecond
	scoreTolerance    = 1e-6
	sampledUsers      = 5
	directoryPerm     = 0o750
	recomputeTrending = "recompute_trending"
)

// Runner executes simulation runs against one service.
type Runner struct {
	cfg    Config
	client *Client
	log    logger.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(cfg Config, l logger.Logger) *Runner {
	if l == nil {
		l = logger.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{cfg: cfg, client: NewClient(cfg.BaseURL, cfg.Timeout), log: l}
}

// Client exposes the runner's API client.
func (r *Runner) Client() *Client { return r.client }

// Run executes the complete simulation: health check, traffic generation,
// concurrent submission, trending recompute and verification, and a sample
// of personalized reads. Trending verification failing within the settle
// window returns ErrTrendingMismatch along with the stats gathered so far.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
	}()

	r.log.Info(ctx, "starting simulation",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("interactions", r.cfg.Interactions),
		logger.Int("workers", r.cfg.Workers),
		logger.Any("seed", r.cfg.Seed))

	if err := r.client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	destinations := r.cfg.Destinations
	if len(destinations) == 0 {
		found, err := r.client.Destinations(ctx, discoverPageSize)
		if err != nil {
			return stats, fmt.Errorf("destination discovery failed: %w", err)
		}
		destinations = found
	}

	interactions, err := Generate(r.cfg, destinations)
	if err != nil {
		return stats, fmt.Errorf("traffic generation failed: %w", err)
	}
	stats.Generated = len(interactions)

	if r.cfg.OutputFile != "" {
		if err := Save(r.cfg.OutputFile, interactions); err != nil {
			r.log.Warn(ctx, "failed to save traffic", logger.String("file", r.cfg.OutputFile), logger.Error(err))
		}
	}

	r.submit(ctx, interactions, stats)

	if err := r.verifyTrending(ctx, ExpectedTrending(interactions), stats); err != nil {
		return stats, err
	}

	r.sampleRecommendations(ctx, interactions, stats)

	r.log.Info(ctx, "simulation completed",
		logger.Int("generated", stats.Generated),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Int("trendingMatched", stats.TrendingMatched),
		logger.Int("recommendations", stats.Recommendations))
	return stats, nil
}

// submit sends interactions from a fixed pool of workers. Retries are held
// back until the original has been sent so the service sees them as duplicates.
func (r *Runner) submit(ctx context.Context, interactions []Interaction, stats *Stats) {
	var firsts, retries []Interaction
	for _, in := range interactions {
		if in.Retry {
			retries = append(retries, in)
			continue
		}
		firsts = append(firsts, in)
	}

	var accepted, duplicate, failed atomic.Int64
	send := func(batch []Interaction) {
		ch := make(chan Interaction, r.cfg.Workers*2)
		var wg sync.WaitGroup
		for i := 0; i < r.cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for in := range ch {
					outcome, err := r.client.Track(ctx, in)
					switch {
					case err != nil:
						failed.Add(1)
						if r.cfg.Verbose {
							r.log.Warn(ctx, "tracking failed", logger.String("event", in.EventID), logger.Error(err))
						}
					case outcome == OutcomeDuplicate:
						duplicate.Add(1)
					default:
						accepted.Add(1)
					}
				}
			}()
		}
	feed:
		for _, in := range batch {
			select {
			case <-ctx.Done():
				break feed
			case ch <- in:
			}
		}
		close(ch)
		wg.Wait()
	}

	send(firsts)
	send(retries)

	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Failed = int(failed.Load())
	stats.Submitted = stats.Accepted + stats.Duplicate + stats.Failed
	r.log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed))
}

// verifyTrending queues a trending recompute and polls until every expected
// destination reports the expected score or the settle window closes.
func (r *Runner) verifyTrending(ctx context.Context, expected map[string]float64, stats *Stats) error {
	if err := r.client.RunJob(ctx, recomputeTrending); err != nil {
		return fmt.Errorf("failed to queue trending recompute: %w", err)
	}
	stats.TrendingChecked = len(expected)

	deadline := time.Now().Add(r.cfg.Settle)
	for {
		got, err := r.client.Trending(ctx, len(expected))
		if err != nil {
			return fmt.Errorf("trending read failed: %w", err)
		}
		stats.TrendingMatched = matched(expected, got)
		if stats.TrendingMatched == len(expected) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d of %d destinations", ErrTrendingMismatch, stats.TrendingMatched, len(expected))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// sampleRecommendations reads personalized lists for a few simulated users.
// Misses are expected on a cold cache and are not failures.
func (r *Runner) sampleRecommendations(ctx context.Context, interactions []Interaction, stats *Stats) {
	users := make(map[string]struct{})
	for _, in := range interactions {
		if in.UserID == "" {
			continue
		}
		users[in.UserID] = struct{}{}
		if len(users) == sampledUsers {
			break
		}
	}
	for user := range users {
		recs, err := r.client.Recommendations(ctx, "destinations", user, 0)
		if err != nil {
			r.log.Warn(ctx, "recommendation read failed", logger.String("user", user), logger.Error(err))
			continue
		}
		stats.Recommendations++
		if r.cfg.Verbose {
			r.log.Info(ctx, "recommendations", logger.String("user", user), logger.Int("entries", len(recs.All)))
		}
	}
}

func matched(expected map[string]float64, got []types.TrendingEntry) int {
	n := 0
	for _, e := range got {
		want, ok := expected[e.DestinationID]
		if ok && math.Abs(want-e.TrendingScore) < scoreTolerance {
			n++
		}
	}
	return n
}

// Save writes interactions to path as a JSON array.
func Save(path string, interactions []Interaction) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPerm); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(interactions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal traffic: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
