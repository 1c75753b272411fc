// Command voyagectl operates a running voyage service: it flushes caches,
// queues background jobs, reads recommendations and trending lists, publishes
// change hooks over NATS and drives synthetic traffic for load checks.
package main

import (
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/okian/voyage/internal/simulate"
	"github.com/okian/voyage/pkg/logger"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	baseURL string
	timeout time.Duration
}

func (o *globalOptions) client() *simulate.Client {
	return simulate.NewClient(o.baseURL, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "voyagectl",
		Short:         "voyagectl - operate a voyage recommendation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", simulate.DefaultBaseURL, "Base URL of the service")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", simulate.DefaultTimeout, "HTTP request timeout")

	root.AddCommand(
		newFlushCmd(opts),
		newJobCmd(opts),
		newRecommendCmd(opts),
		newTrendingCmd(opts),
		newHookCmd(),
		newSimulateCmd(opts),
	)
	return root
}

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("voyagectl: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// printJSON writes v to the command's output, indented.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
