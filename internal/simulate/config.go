// Package simulate drives synthetic traffic against a running voyage API and
// checks that the trending scores it computes match the traffic it was sent.
package simulate

import (
	"runtime"
	"time"
)

// Default configuration values.
const (
	DefaultBaseURL      = "http://localhost:9080"
	DefaultInteractions = 1000
	DefaultUsers        = 20
	DefaultSessions     = 50
	DefaultTimeout      = 10 * time.Second
	DefaultSettle       = 30 * time.Second
)

// Config holds configuration for one simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Destinations []string      // Destination ids to target; discovered from the API when empty
	Interactions int           // Number of distinct interactions to generate
	Users        int           // Size of the simulated user population
	Sessions     int           // Size of the simulated anonymous session population
	UserRatio    float64       // Share of interactions sent with a user id
	RetryRatio   float64       // Share of interactions re-sent with the same event id
	Workers      int           // Number of concurrent submitters
	Timeout      time.Duration // HTTP request timeout
	Settle       time.Duration // How long to wait for the trending recompute to catch up
	Seed         uint64        // Seed for the traffic generator
	OutputFile   string        // Optional JSON dump of the generated traffic
	Verbose      bool
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Interactions: DefaultInteractions,
		Users:        DefaultUsers,
		Sessions:     DefaultSessions,
		UserRatio:    0.4,
		RetryRatio:   0.05,
		Workers:      runtime.NumCPU() * 2,
		Timeout:      DefaultTimeout,
		Settle:       DefaultSettle,
		Seed:         uint64(time.Now().UnixNano()),
	}
}

// Stats holds run statistics.
type Stats struct {
	Generated       int           `json:"generated"`
	Submitted       int           `json:"submitted"`
	Accepted        int           `json:"accepted"`
	Duplicate       int           `json:"duplicate"`
	Failed          int           `json:"failed"`
	TrendingChecked int           `json:"trending_checked"`
	TrendingMatched int           `json:"trending_matched"`
	Recommendations int           `json:"recommendations"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration_ns"`
}
