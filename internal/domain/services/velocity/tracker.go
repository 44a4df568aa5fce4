package velocity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/errors"
	"github.com/lumipay/risk-engine/pkg/metrics"
	"github.com/lumipay/risk-engine/pkg/money"
)

// CheckResult is the outcome of a velocity check. Breach is set to the
// first breached limit's state when Passed is false.
type CheckResult struct {
	Passed bool
	Breach *entities.VelocityEvidence
}

// Tracker enforces rolling per-user amount and count limits.
//
// Check is read-only and reads without a lock, so its view can go stale
// under concurrency. The commit path re-checks the caps against rows
// locked FOR UPDATE and rejects the commit when a concurrent payment got
// there first; a stale pass never turns into a committed overage.
type Tracker struct {
	limits   repositories.VelocityLimitRepository
	defaults config.VelocityDefaults
	logger   *zap.Logger
}

// NewTracker creates a velocity tracker.
func NewTracker(limits repositories.VelocityLimitRepository, defaults config.VelocityDefaults, logger *zap.Logger) *Tracker {
	return &Tracker{
		limits:   limits,
		defaults: defaults,
		logger:   logger,
	}
}

// Check evaluates all active limits for the user against the attempted
// amount. A user with no limits gets the configured default assigned
// lazily, so nobody transacts uncapped.
func (t *Tracker) Check(ctx context.Context, userID uuid.UUID, amount money.Amount, now time.Time) (*CheckResult, error) {
	limits, err := t.limits.ListActive(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load velocity limits")
	}

	if len(limits) == 0 {
		limit, err := t.assignDefault(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		limits = []*entities.VelocityLimit{limit}
	}

	for _, limit := range limits {
		if !limit.WouldBreach(now, amount) {
			continue
		}
		usedAmount, usedCount := limit.EffectiveUsage(now)
		metrics.VelocityBreachesTotal.WithLabelValues(string(limit.LimitType)).Inc()
		t.logger.Warn("velocity limit breached",
			zap.String("user_id", userID.String()),
			zap.String("limit_type", string(limit.LimitType)),
			zap.Int64("attempted_amount", int64(amount)),
			zap.Int64("current_amount", int64(usedAmount)),
			zap.Int("current_count", usedCount),
		)
		return &CheckResult{
			Passed: false,
			Breach: &entities.VelocityEvidence{
				LimitType:        limit.LimitType,
				AmountLimit:      limit.AmountLimit,
				TransactionLimit: limit.TransactionLimit,
				CurrentAmount:    usedAmount,
				CurrentCount:     usedCount,
				AttemptedAmount:  amount,
			},
		}, nil
	}

	return &CheckResult{Passed: true}, nil
}

// AssignLimit creates or replaces a limit for the user. Counters start at
// zero with a fresh window.
func (t *Tracker) AssignLimit(ctx context.Context, userID uuid.UUID, limitType entities.LimitType, amountLimit money.Amount, transactionLimit int, window time.Duration) (*entities.VelocityLimit, error) {
	if amountLimit <= 0 || transactionLimit <= 0 || window <= 0 {
		return nil, errors.ValidationError("limit values must be positive")
	}

	now := time.Now().UTC()
	limit := &entities.VelocityLimit{
		ID:               uuid.New(),
		UserID:           userID,
		LimitType:        limitType,
		AmountLimit:      amountLimit,
		TransactionLimit: transactionLimit,
		TimeWindow:       window,
		WindowStart:      now,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.limits.Upsert(ctx, limit); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to assign velocity limit")
	}

	t.logger.Info("velocity limit assigned",
		zap.String("user_id", userID.String()),
		zap.String("limit_type", string(limitType)),
		zap.Int64("amount_limit", int64(amountLimit)),
		zap.Int("transaction_limit", transactionLimit),
	)
	return limit, nil
}

// RemoveLimit deactivates a limit without deleting its history.
func (t *Tracker) RemoveLimit(ctx context.Context, userID uuid.UUID, limitType entities.LimitType) error {
	if err := t.limits.Deactivate(ctx, userID, limitType); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to remove velocity limit")
	}
	return nil
}

// ListLimits returns the user's active limits.
func (t *Tracker) ListLimits(ctx context.Context, userID uuid.UUID) ([]*entities.VelocityLimit, error) {
	limits, err := t.limits.ListActive(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list velocity limits")
	}
	return limits, nil
}

func (t *Tracker) assignDefault(ctx context.Context, userID uuid.UUID, now time.Time) (*entities.VelocityLimit, error) {
	limit := &entities.VelocityLimit{
		ID:               uuid.New(),
		UserID:           userID,
		LimitType:        entities.LimitTypeDaily,
		AmountLimit:      money.Amount(t.defaults.AmountLimitCents),
		TransactionLimit: t.defaults.TransactionLimit,
		TimeWindow:       time.Duration(t.defaults.WindowMinutes) * time.Minute,
		WindowStart:      now,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.limits.Upsert(ctx, limit); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to assign default velocity limit")
	}
	t.logger.Info("default velocity limit assigned", zap.String("user_id", userID.String()))
	return limit, nil
}
