package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/resilience"
)

// DLQStore is the dead-letter queue access Replay needs.
type DLQStore interface {
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// ReplayStats counts the outcome of one Replay pass.
type ReplayStats struct {
	Attempted int
	Recovered int
	Requeued  int
	Exhausted int
}

// Replay re-runs due transient entries of the dead-letter queue. Recovered
// documents leave the queue; failures are rescheduled with exponential
// backoff, and a permanent failure is marked so it is never picked again.
func (r *Runner) Replay(ctx context.Context, dlq DLQStore, limit int) (ReplayStats, error) {
	var stats ReplayStats
	entries, err := dlq.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient, Limit: limit})
	if err != nil {
		return stats, eris.Wrap(err, "extract: dequeue dlq")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, eris.Wrap(ctx.Err(), "extract: replay cancelled")
		}
		if !entry.CanRetry() {
			continue
		}
		stats.Attempted++
		log := zap.L().With(zap.String("dlq_id", entry.ID), zap.String("document", entry.Document.ID))

		_, _, runErr := r.execute(ctx, entry.Document)
		writeCtx := context.WithoutCancel(ctx)
		if runErr == nil {
			stats.Recovered++
			if err := dlq.RemoveDLQ(writeCtx, entry.ID); err != nil {
				return stats, eris.Wrapf(err, "extract: remove dlq entry %s", entry.ID)
			}
			log.Info("extract: dlq entry recovered", zap.Int("retry_count", entry.RetryCount))
			continue
		}

		now := r.nowFunc()
		if resilience.ClassifyError(runErr) == resilience.ErrorTypePermanent {
			stats.Exhausted++
			entry.ErrorType = resilience.ErrorTypePermanent
			entry.Error = runErr.Error()
			entry.RetryCount++
			entry.LastFailedAt = now
			if err := dlq.EnqueueDLQ(writeCtx, entry); err != nil {
				return stats, eris.Wrapf(err, "extract: mark dlq entry %s permanent", entry.ID)
			}
			log.Warn("extract: dlq entry failed permanently", zap.Error(runErr))
			continue
		}

		next := now.Add(resilience.NextRetryDelay(r.dlqBackoff, entry.RetryCount+1))
		if err := dlq.IncrementDLQRetry(writeCtx, entry.ID, next, runErr.Error()); err != nil {
			return stats, eris.Wrapf(err, "extract: reschedule dlq entry %s", entry.ID)
		}
		if entry.RetryCount+1 >= entry.MaxRetries {
			stats.Exhausted++
			log.Warn("extract: dlq entry exhausted retries", zap.Error(runErr))
		} else {
			stats.Requeued++
			log.Info("extract: dlq entry rescheduled", zap.Time("next_retry_at", next), zap.Error(runErr))
		}
	}
	return stats, nil
}
