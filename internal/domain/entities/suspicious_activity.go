package entities

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType classifies a suspicious activity record.
type ActivityType string

const (
	ActivityStructuringBehavior ActivityType = "structuring_behavior"
	ActivityRapidTransactions   ActivityType = "rapid_transactions"
	ActivityBackAndForth        ActivityType = "back_and_forth"
	ActivityCircularNetwork     ActivityType = "circular_network"
	ActivityHighRiskUser        ActivityType = "high_risk_user"
)

// ActivityStatus is the investigation lifecycle.
type ActivityStatus string

const (
	ActivityStatusActive             ActivityStatus = "active"
	ActivityStatusUnderInvestigation ActivityStatus = "under_investigation"
	ActivityStatusResolved           ActivityStatus = "resolved"
)

// SuspiciousActivity tracks one detector signal per (user, type). Frequency
// grows monotonically while the record is active; only an explicit admin
// resolution closes it.
type SuspiciousActivity struct {
	ID              uuid.UUID            `json:"id" db:"id"`
	UserID          uuid.UUID            `json:"user_id" db:"user_id"`
	ActivityType    ActivityType         `json:"activity_type" db:"activity_type"`
	Description     string               `json:"description" db:"description"`
	RiskScore       float64              `json:"risk_score" db:"risk_score"`
	Structuring     *StructuringEvidence `json:"structuring,omitempty" db:"structuring"`
	FirstDetectedAt time.Time            `json:"first_detected_at" db:"first_detected_at"`
	LastDetectedAt  time.Time            `json:"last_detected_at" db:"last_detected_at"`
	Frequency       int                  `json:"frequency" db:"frequency"`
	Status          ActivityStatus       `json:"status" db:"status"`
	ResolvedBy      *uuid.UUID           `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionNotes *string              `json:"resolution_notes,omitempty" db:"resolution_notes"`
}

// IsOpen reports whether the record still contributes to user risk.
func (a *SuspiciousActivity) IsOpen() bool {
	return a.Status != ActivityStatusResolved
}
