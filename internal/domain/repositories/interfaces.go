package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/pkg/money"
)

// RiskCheckRepository persists evaluation records and their review lifecycle.
type RiskCheckRepository interface {
	Create(ctx context.Context, check *entities.RiskCheck) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.RiskCheck, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.RiskCheck, error)
	ListPending(ctx context.Context, limit, offset int) ([]*entities.RiskCheck, error)
}

// VelocityLimitRepository stores per-user rolling limits. CommitUsage must
// re-read the rows under a lock so concurrent commits serialize; with
// enforce set it re-checks the caps under that lock and returns a
// *VelocityBreachError when a concurrent commit already consumed the
// headroom the caller's earlier check observed.
type VelocityLimitRepository interface {
	ListActive(ctx context.Context, userID uuid.UUID) ([]*entities.VelocityLimit, error)
	Upsert(ctx context.Context, limit *entities.VelocityLimit) error
	CommitUsage(ctx context.Context, userID uuid.UUID, amount money.Amount, now time.Time, enforce bool) error
	Deactivate(ctx context.Context, userID uuid.UUID, limitType entities.LimitType) error
}

// VelocityBreachError reports that a commit-time re-check found a limit
// without room for the payment. It aborts the enclosing transaction, so
// nothing from the outcome lands.
type VelocityBreachError struct {
	Breach *entities.VelocityEvidence
}

func (e *VelocityBreachError) Error() string {
	return fmt.Sprintf("velocity limit %s breached at commit", e.Breach.LimitType)
}

// SuspiciousActivityRepository stores detector signals. Record upserts on
// (user, type): a second detection bumps frequency and LastDetectedAt
// instead of inserting a duplicate row.
type SuspiciousActivityRepository interface {
	Record(ctx context.Context, activity *entities.SuspiciousActivity) error
	ListOpenByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.SuspiciousActivity, error)
	ListByStatus(ctx context.Context, status entities.ActivityStatus, limit, offset int) ([]*entities.SuspiciousActivity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.SuspiciousActivity, error)
	Resolve(ctx context.Context, id, resolverID uuid.UUID, notes string) error
	EscalateStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// PaymentHistoryRepository reads completed payments as edges and counters.
// It never writes; payments belong to the payment subsystem.
type PaymentHistoryRepository interface {
	EdgesByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]entities.TransactionEdge, error)
	EdgesAmong(ctx context.Context, userIDs []uuid.UUID, since time.Time) ([]entities.TransactionEdge, error)
	CountByPayer(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// UserRepository reads the account attributes the profiler needs and flips
// the flagged marker when an evaluation demands it.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	SetFlagged(ctx context.Context, id uuid.UUID, flagged bool) error
}

// OutcomeCommit is everything an evaluation writes. Implementations apply
// the whole struct in one database transaction: the risk check row, the
// payment risk status, the user flag, and the velocity counters commit
// together or not at all.
//
// EnforceVelocity marks commits whose score assumed the limits had room:
// the store must re-check them under the row lock and fail the whole
// transaction with a *VelocityBreachError if a concurrent payment got
// there first.
type OutcomeCommit struct {
	Check           *entities.RiskCheck
	PaymentID       *uuid.UUID
	PaymentStatus   entities.PaymentRiskStatus
	FlagUser        bool
	VelocityAmount  money.Amount
	CommitVelocity  bool
	EnforceVelocity bool
}

// ReviewCommit is everything a manual review writes: the check's verdict
// and, when the check blocked a payment, the payment's new risk status and
// the user's flag.
type ReviewCommit struct {
	CheckID       uuid.UUID
	ReviewerID    uuid.UUID
	Status        entities.CheckStatus
	Notes         string
	UserID        uuid.UUID
	PaymentID     *uuid.UUID
	PaymentStatus entities.PaymentRiskStatus
	UnflagUser    bool
}

// OutcomeStore applies evaluation and review outcomes in one database
// transaction each.
type OutcomeStore interface {
	PersistOutcome(ctx context.Context, commit *OutcomeCommit) error
	ApplyReview(ctx context.Context, commit *ReviewCommit) error
}
