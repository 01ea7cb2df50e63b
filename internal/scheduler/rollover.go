// Package scheduler implements the scheduled maintenance tasks for VibeResume.
//
// Tasks take the reference time as a parameter so a manual invocation can
// backfill a past period deterministically.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"viberesume/internal/billing"
)

// RolloverBatchSize is the number of counters reset per transaction.
const RolloverBatchSize = 500

// UsageRolloverDB is the storage used by UsageRollover.
// Satisfied by *db.UsageRolloverStore.
type UsageRolloverDB interface {
	// ListStale returns up to limit account ids greater than afterID whose
	// counter period began before periodStart, ascending.
	ListStale(ctx context.Context, periodStart time.Time, afterID int64, limit int) ([]int64, error)

	// ResetBatch zeroes the given counters in one transaction and moves them
	// to periodStart. Counters already in periodStart are untouched.
	ResetBatch(ctx context.Context, accountIDs []int64, periodStart time.Time) (int64, error)
}

// ResetRecorder receives the number of counters reset by a run.
type ResetRecorder interface {
	RecordUsageCountersReset(count int64)
}

// UsageRollover starts a new AI-usage period for every account whose
// counter belongs to an earlier calendar month.
type UsageRollover struct {
	db        UsageRolloverDB
	metrics   ResetRecorder
	batchSize int
	logger    *slog.Logger
}

// NewUsageRollover creates a UsageRollover. metrics may be nil.
func NewUsageRollover(db UsageRolloverDB, metrics ResetRecorder, logger *slog.Logger) *UsageRollover {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRollover{
		db:        db,
		metrics:   metrics,
		batchSize: RolloverBatchSize,
		logger:    logger,
	}
}

// ResetAIUsage resets every counter whose period began before the month
// containing now. A failed batch is logged and skipped; its counters stay
// stale and are picked up by the next run. Returns the number of counters
// reset.
func (u *UsageRollover) ResetAIUsage(ctx context.Context, now time.Time) (int64, error) {
	periodStart := billing.PeriodStart(now)

	var (
		total   int64
		failed  int
		afterID int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		ids, err := u.db.ListStale(ctx, periodStart, afterID, u.batchSize)
		if err != nil {
			return total, fmt.Errorf("listing stale usage counters: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]

		n, err := u.db.ResetBatch(ctx, ids, periodStart)
		if err != nil {
			failed++
			u.logger.ErrorContext(ctx, "failed to reset usage counter batch",
				"batch_size", len(ids),
				"first_account_id", ids[0],
				"last_account_id", afterID,
				"error", err,
			)
		} else {
			total += n
			u.logger.InfoContext(ctx, "reset usage counter batch",
				"batch_size", len(ids),
				"reset", n,
				"total_so_far", total,
			)
		}

		if len(ids) < u.batchSize {
			break
		}
	}

	if u.metrics != nil {
		u.metrics.RecordUsageCountersReset(total)
	}
	u.logger.InfoContext(ctx, "usage rollover complete",
		"period_start", periodStart,
		"total_reset", total,
		"failed_batches", failed,
	)
	return total, nil
}
