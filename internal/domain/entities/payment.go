package entities

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/risk-engine/pkg/money"
)

// PaymentRiskStatus is the risk verdict recorded on a payment. The payment
// subsystem owns the rest of the payment lifecycle; this engine only writes
// the risk transition, atomically with the risk check (see OutcomeStore).
type PaymentRiskStatus string

const (
	PaymentRiskApproved PaymentRiskStatus = "risk_approved"
	PaymentRiskHeld     PaymentRiskStatus = "risk_held"
	PaymentRiskBlocked  PaymentRiskStatus = "risk_blocked"
)

// Payment is the slice of a payment record the risk engine consumes.
type Payment struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	PayerID     uuid.UUID    `json:"payer_id" db:"payer_id"`
	PayeeID     uuid.UUID    `json:"payee_id" db:"payee_id"`
	Amount      money.Amount `json:"amount" db:"amount"`
	ProcessedAt time.Time    `json:"processed_at" db:"processed_at"`
}

// TransactionEdge is a derived, transient view of a completed payment used
// by the pattern detectors and the graph analyzer. Never persisted.
type TransactionEdge struct {
	PayerID   uuid.UUID
	PayeeID   uuid.UUID
	Amount    money.Amount
	Timestamp time.Time
}

// User is the slice of the user record the profiler needs.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Flagged   bool      `json:"flagged" db:"flagged"`
}

// AccountAgeDays returns whole days since account creation.
func (u *User) AccountAgeDays(now time.Time) int {
	return int(now.Sub(u.CreatedAt).Hours() / 24)
}
