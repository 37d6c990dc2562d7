package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryLimit int

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run documents from the dead-letter queue",
	Long:  "Re-runs transient failures whose next retry time has passed. Recovered documents leave the queue; others are rescheduled with exponential backoff.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "retry", true)
		if err != nil {
			return err
		}
		defer env.Close()

		return replayQueue(ctx, env, retryLimit, cmd.OutOrStdout())
	},
}

// replayQueue runs one replay pass over the due dead-letter entries and
// prints the tally. The queue depth left behind is logged.
func replayQueue(ctx context.Context, env *annotateEnv, limit int, out io.Writer) error {
	stats, err := env.Runner().Replay(ctx, env.Store, limit)
	if err != nil {
		return err
	}
	remaining, err := env.Store.CountDLQ(ctx)
	if err != nil {
		return eris.Wrap(err, "retry: count dlq")
	}
	zap.L().Info("dlq replay complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("recovered", stats.Recovered),
		zap.Int("requeued", stats.Requeued),
		zap.Int("exhausted", stats.Exhausted),
		zap.Int("remaining", remaining),
	)
	_, err = fmt.Fprintf(out, "attempted=%d recovered=%d requeued=%d exhausted=%d remaining=%d\n",
		stats.Attempted, stats.Recovered, stats.Requeued, stats.Exhausted, remaining)
	return err
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 50, "max number of queued documents to retry")
	rootCmd.AddCommand(retryCmd)
}
