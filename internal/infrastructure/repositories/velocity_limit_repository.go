package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	domain "github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/database"
	"github.com/lumipay/risk-engine/pkg/metrics"
	"github.com/lumipay/risk-engine/pkg/money"
)

// VelocityLimitRepository stores velocity limits in Postgres. Windows are
// persisted as seconds; counters reset lazily when a commit observes an
// expired window.
type VelocityLimitRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVelocityLimitRepository creates a velocity limit repository.
func NewVelocityLimitRepository(db *sql.DB, logger *zap.Logger) *VelocityLimitRepository {
	return &VelocityLimitRepository{db: db, logger: logger}
}

// ListActive returns the user's active limits.
func (r *VelocityLimitRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*entities.VelocityLimit, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("list_active", "velocity_limits").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT id, user_id, limit_type, amount_limit, transaction_limit, window_seconds,
		       current_amount, current_transactions, window_start, is_active, created_at, updated_at
		FROM velocity_limits
		WHERE user_id = $1 AND is_active = true
		ORDER BY limit_type`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var limits []*entities.VelocityLimit
	for rows.Next() {
		limit, err := scanVelocityLimit(rows)
		if err != nil {
			return nil, err
		}
		limits = append(limits, limit)
	}
	return limits, rows.Err()
}

// Upsert inserts or replaces the limit for its (user, type) key.
func (r *VelocityLimitRepository) Upsert(ctx context.Context, limit *entities.VelocityLimit) error {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("upsert", "velocity_limits").Observe(time.Since(start).Seconds())
	}()

	query := `
		INSERT INTO velocity_limits (
			id, user_id, limit_type, amount_limit, transaction_limit, window_seconds,
			current_amount, current_transactions, window_start, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, limit_type) DO UPDATE SET
			amount_limit = EXCLUDED.amount_limit,
			transaction_limit = EXCLUDED.transaction_limit,
			window_seconds = EXCLUDED.window_seconds,
			current_amount = EXCLUDED.current_amount,
			current_transactions = EXCLUDED.current_transactions,
			window_start = EXCLUDED.window_start,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		limit.ID, limit.UserID, limit.LimitType, int64(limit.AmountLimit), limit.TransactionLimit,
		int64(limit.TimeWindow.Seconds()), int64(limit.CurrentAmount), limit.CurrentTransactions,
		limit.WindowStart, limit.IsActive, limit.CreatedAt, limit.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to upsert velocity limit",
			zap.String("user_id", limit.UserID.String()),
			zap.String("limit_type", string(limit.LimitType)),
			zap.Error(err),
		)
	}
	return err
}

// CommitUsage advances the user's counters in its own transaction. The
// evaluation path instead calls CommitUsageTx inside the outcome
// transaction.
func (r *VelocityLimitRepository) CommitUsage(ctx context.Context, userID uuid.UUID, amount money.Amount, now time.Time, enforce bool) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		return CommitUsageTx(ctx, tx, userID, amount, now, enforce)
	})
}

// Deactivate disables a limit without touching its counters.
func (r *VelocityLimitRepository) Deactivate(ctx context.Context, userID uuid.UUID, limitType entities.LimitType) error {
	query := `
		UPDATE velocity_limits
		SET is_active = false, updated_at = $3
		WHERE user_id = $1 AND limit_type = $2`
	_, err := r.db.ExecContext(ctx, query, userID, limitType, time.Now().UTC())
	return err
}

// CommitUsageTx adds one transaction of the given amount to every active
// limit of the user. Rows are read FOR UPDATE so two concurrent commits
// serialize; a commit that observes an expired window resets the counters
// before adding.
//
// The caller's earlier check ran without a lock, so its view may be stale
// by commit time. With enforce set the caps are re-checked against the
// locked rows, and a breach aborts the transaction with a
// *domain.VelocityBreachError instead of incrementing past the limit.
func CommitUsageTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount money.Amount, now time.Time, enforce bool) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, limit_type, amount_limit, transaction_limit, window_seconds,
		       current_amount, current_transactions, window_start, is_active, created_at, updated_at
		FROM velocity_limits
		WHERE user_id = $1 AND is_active = true
		FOR UPDATE`, userID)
	if err != nil {
		return err
	}

	var limits []*entities.VelocityLimit
	for rows.Next() {
		limit, err := scanVelocityLimit(rows)
		if err != nil {
			rows.Close()
			return err
		}
		limits = append(limits, limit)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, limit := range limits {
		if enforce && limit.WouldBreach(now, amount) {
			usedAmount, usedCount := limit.EffectiveUsage(now)
			metrics.VelocityBreachesTotal.WithLabelValues(string(limit.LimitType)).Inc()
			return &domain.VelocityBreachError{Breach: &entities.VelocityEvidence{
				LimitType:        limit.LimitType,
				AmountLimit:      limit.AmountLimit,
				TransactionLimit: limit.TransactionLimit,
				CurrentAmount:    usedAmount,
				CurrentCount:     usedCount,
				AttemptedAmount:  amount,
			}}
		}
		newAmount := limit.CurrentAmount + amount
		newCount := limit.CurrentTransactions + 1
		windowStart := limit.WindowStart
		if limit.WindowExpired(now) {
			newAmount = amount
			newCount = 1
			windowStart = now
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE velocity_limits
			SET current_amount = $2, current_transactions = $3, window_start = $4, updated_at = $5
			WHERE id = $1`,
			limit.ID, int64(newAmount), newCount, windowStart, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVelocityLimit(row rowScanner) (*entities.VelocityLimit, error) {
	var limit entities.VelocityLimit
	var amountLimit, currentAmount, windowSeconds int64
	err := row.Scan(
		&limit.ID, &limit.UserID, &limit.LimitType, &amountLimit, &limit.TransactionLimit,
		&windowSeconds, &currentAmount, &limit.CurrentTransactions, &limit.WindowStart,
		&limit.IsActive, &limit.CreatedAt, &limit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	limit.AmountLimit = money.Amount(amountLimit)
	limit.CurrentAmount = money.Amount(currentAmount)
	limit.TimeWindow = time.Duration(windowSeconds) * time.Second
	return &limit, nil
}
