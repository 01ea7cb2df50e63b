package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"viberesume/internal/types"
)

// UsageCounterRepository provides data access for usage_counters. There is
// one row per account, holding the AI-usage count for the current period.
type UsageCounterRepository struct {
	db DBTX
}

// NewUsageCounterRepository creates a new UsageCounterRepository.
func NewUsageCounterRepository(db DBTX) *UsageCounterRepository {
	return &UsageCounterRepository{db: db}
}

const usageCounterColumns = `id, user_id, external_id, count, period_start, created_at, updated_at`

func scanUsageCounter(row pgx.Row) (*types.UsageCounter, error) {
	var c types.UsageCounter
	err := row.Scan(&c.ID, &c.UserID, &c.ExternalID, &c.Count, &c.PeriodStart, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *UsageCounterRepository) ensure(ctx context.Context, p types.Principal) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO usage_counters (user_id, external_id) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.AccountID, p.ExternalID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create usage counter", err)
	}
	return nil
}

// GetOrCreate returns the account's counter, creating it at zero if absent.
func (r *UsageCounterRepository) GetOrCreate(ctx context.Context, p types.Principal) (*types.UsageCounter, error) {
	if err := r.ensure(ctx, p); err != nil {
		return nil, err
	}
	c, err := scanUsageCounter(r.db.QueryRow(ctx,
		`SELECT `+usageCounterColumns+` FROM usage_counters WHERE user_id = $1`,
		p.AccountID,
	))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage counter", err)
	}
	return c, nil
}

// Increment atomically adds amount to the account's counter, creating the
// row first if needed, and returns the new count.
func (r *UsageCounterRepository) Increment(ctx context.Context, p types.Principal, amount int) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`INSERT INTO usage_counters (user_id, external_id, count) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		   SET count = usage_counters.count + EXCLUDED.count, updated_at = NOW()
		 RETURNING count`,
		p.AccountID, p.ExternalID, amount,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	return count, nil
}

// IncrementIfBelow adds amount only when the result stays within limit.
// It returns the post-increment count and true, or the unchanged state and
// false when the increment would exceed the limit.
func (r *UsageCounterRepository) IncrementIfBelow(ctx context.Context, p types.Principal, amount, limit int) (int, bool, error) {
	if err := r.ensure(ctx, p); err != nil {
		return 0, false, err
	}
	var count int
	err := r.db.QueryRow(ctx,
		`UPDATE usage_counters SET count = count + $2, updated_at = NOW()
		 WHERE user_id = $1 AND count + $2 <= $3
		 RETURNING count`,
		p.AccountID, amount, limit,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	return count, true, nil
}

// Reset zeroes the account's counter and starts a new period.
func (r *UsageCounterRepository) Reset(ctx context.Context, accountID int64, periodStart time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE usage_counters SET count = 0, period_start = $2, updated_at = NOW()
		 WHERE user_id = $1`,
		accountID, periodStart,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage counter", err)
	}
	return nil
}

// ListStale returns up to limit account ids greater than afterID whose
// counter period began before periodStart, in ascending order.
func (r *UsageCounterRepository) ListStale(ctx context.Context, periodStart time.Time, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM usage_counters
		 WHERE period_start < $1 AND user_id > $2
		 ORDER BY user_id
		 LIMIT $3`,
		periodStart, afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale usage counters", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage counter", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale usage counters", err)
	}
	return ids, nil
}

// ResetStale zeroes the given counters that still belong to an earlier
// period. Rows already rolled over are left alone, so re-running is safe.
func (r *UsageCounterRepository) ResetStale(ctx context.Context, accountIDs []int64, periodStart time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE usage_counters SET count = 0, period_start = $2, updated_at = NOW()
		 WHERE user_id = ANY($1) AND period_start < $2`,
		accountIDs, periodStart,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage counters", err)
	}
	return tag.RowsAffected(), nil
}

// UsageRolloverStore adapts UsageCounterRepository for the scheduled
// rollover. Each ResetBatch call runs in its own transaction.
type UsageRolloverStore struct {
	pool Pool
}

// NewUsageRolloverStore creates a UsageRolloverStore.
func NewUsageRolloverStore(pool Pool) *UsageRolloverStore {
	return &UsageRolloverStore{pool: pool}
}

// ListStale delegates to UsageCounterRepository.ListStale outside any
// transaction.
func (s *UsageRolloverStore) ListStale(ctx context.Context, periodStart time.Time, afterID int64, limit int) ([]int64, error) {
	return NewUsageCounterRepository(s.pool).ListStale(ctx, periodStart, afterID, limit)
}

// ResetBatch resets one batch of stale counters atomically.
func (s *UsageRolloverStore) ResetBatch(ctx context.Context, accountIDs []int64, periodStart time.Time) (int64, error) {
	var n int64
	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		n, err = NewUsageCounterRepository(tx).ResetStale(ctx, accountIDs, periodStart)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
