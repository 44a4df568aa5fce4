package entities

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/risk-engine/pkg/money"
)

// LimitType names a velocity limit bucket. Each (user, type) pair carries
// its own window duration, so the type is a label rather than a schedule.
type LimitType string

const (
	LimitTypeHourly  LimitType = "hourly"
	LimitTypeDaily   LimitType = "daily"
	LimitTypeWeekly  LimitType = "weekly"
	LimitTypeMonthly LimitType = "monthly"
)

// VelocityLimit is a rolling amount/count cap for one user and limit type.
//
// The window is fixed, not sliding: counters reset exactly once when the
// elapsed time since WindowStart exceeds TimeWindow. A user can therefore
// spend a full limit just before a boundary and again just after it; that
// edge burst is inherited behavior, kept pending a product decision.
type VelocityLimit struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	UserID              uuid.UUID     `json:"user_id" db:"user_id"`
	LimitType           LimitType     `json:"limit_type" db:"limit_type"`
	AmountLimit         money.Amount  `json:"amount_limit" db:"amount_limit"`
	TransactionLimit    int           `json:"transaction_limit" db:"transaction_limit"`
	TimeWindow          time.Duration `json:"time_window" db:"time_window"`
	CurrentAmount       money.Amount  `json:"current_amount" db:"current_amount"`
	CurrentTransactions int           `json:"current_transactions" db:"current_transactions"`
	WindowStart         time.Time     `json:"window_start" db:"window_start"`
	IsActive            bool          `json:"is_active" db:"is_active"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// WindowExpired reports whether the fixed window has elapsed.
func (l *VelocityLimit) WindowExpired(now time.Time) bool {
	return now.Sub(l.WindowStart) > l.TimeWindow
}

// EffectiveUsage returns the counters that apply at now, treating an
// expired window as already reset.
func (l *VelocityLimit) EffectiveUsage(now time.Time) (money.Amount, int) {
	if l.WindowExpired(now) {
		return 0, 0
	}
	return l.CurrentAmount, l.CurrentTransactions
}

// WouldBreach reports whether adding one transaction of the given amount
// would exceed either the amount or the count cap.
func (l *VelocityLimit) WouldBreach(now time.Time, amount money.Amount) bool {
	usedAmount, usedCount := l.EffectiveUsage(now)
	return usedAmount+amount > l.AmountLimit || usedCount+1 > l.TransactionLimit
}
