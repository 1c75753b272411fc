package main

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/okian/voyage/internal/adapters/mq/hooks"
	"github.com/okian/voyage/internal/simulate"
	"github.com/okian/voyage/pkg/logger"
)

func newFlushCmd(opts *globalOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete cached entries under a key prefix (all entries when empty)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := opts.client().Flush(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"prefix": prefix, "deleted": n})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Cache key prefix, e.g. recommendations:user:")
	return cmd
}

func newJobCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <name>",
		Short: "Queue a background job such as rebuild_global or recompute_trending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().RunJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"job": args[0], "status": "queued"})
		},
	}
}

func newRecommendCmd(opts *globalOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "recommend <destinations|itineraries>",
		Short: "Read recommendations for a user or the global list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := opts.client().Recommendations(cmd.Context(), args[0], userID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id; the global list is read when empty")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of recommended entries (service default when 0)")
	return cmd
}

func newTrendingCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Read the trending destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := opts.client().Trending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of entries (service default when 0)")
	return cmd
}

// hookOptions select the broker and subject prefix for hook publishing.
type hookOptions struct {
	natsURL string
	prefix  string
	timeout time.Duration
}

func (o *hookOptions) publish(fn func(*hooks.Publisher) error) error {
	nc, err := nats.Connect(o.natsURL, nats.Name("voyagectl"), nats.Timeout(o.timeout))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()
	return fn(hooks.NewPublisher(nc, o.prefix))
}

func newHookCmd() *cobra.Command {
	opts := &hookOptions{}
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Publish a change notification over NATS",
	}
	cmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	cmd.PersistentFlags().StringVar(&opts.prefix, "prefix", "", "Hook subject prefix (voyage.hooks when empty)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "nats-timeout", 5*time.Second, "NATS connect timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "destination-changed [id]",
			Short: "Announce that a destination was created or updated",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.publish(func(p *hooks.Publisher) error {
					return p.DestinationChanged(firstArg(args))
				})
			},
		},
		&cobra.Command{
			Use:   "category-changed [slug]",
			Short: "Announce that a category was created or updated",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.publish(func(p *hooks.Publisher) error {
					return p.CategoryChanged(firstArg(args))
				})
			},
		},
		&cobra.Command{
			Use:   "user-signal <user-id>",
			Short: "Announce a strong signal from a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.publish(func(p *hooks.Publisher) error {
					return p.UserSignal(args[0])
				})
			},
		},
	)
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newSimulateCmd(opts *globalOptions) *cobra.Command {
	cfg := simulate.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send synthetic traffic and verify the trending scores it produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = opts.baseURL
			cfg.Timeout = opts.timeout
			stats, err := simulate.NewRunner(cfg, logger.Get()).Run(cmd.Context())
			if stats != nil {
				if perr := printJSON(cmd, stats); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Interactions, "interactions", cfg.Interactions, "Number of distinct interactions to send")
	f.IntVar(&cfg.Users, "users", cfg.Users, "Simulated user population")
	f.IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "Simulated anonymous session population")
	f.Float64Var(&cfg.UserRatio, "user-ratio", cfg.UserRatio, "Share of interactions sent as a user")
	f.Float64Var(&cfg.RetryRatio, "retry-ratio", cfg.RetryRatio, "Share of interactions re-sent with the same event id")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent submitters")
	f.DurationVar(&cfg.Settle, "settle", cfg.Settle, "How long to wait for trending to catch up")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Traffic generator seed")
	f.StringSliceVar(&cfg.Destinations, "destinations", nil, "Destination ids to target (discovered when empty)")
	f.StringVar(&cfg.OutputFile, "output", "", "Write the generated traffic to this JSON file")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Log every failed call")
	return cmd
}
