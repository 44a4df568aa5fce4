package entities

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/risk-engine/pkg/money"
)

// RiskLevel buckets a [0,100] risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a score to its level bucket.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

var riskLevelRank = map[RiskLevel]int{
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// Max returns the higher of two risk levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskLevelRank[other] > riskLevelRank[l] {
		return other
	}
	return l
}

// CheckType identifies what triggered an evaluation.
type CheckType string

const (
	CheckTypePayment  CheckType = "payment"
	CheckTypeActivity CheckType = "activity"
)

// CheckStatus is the review lifecycle of a risk check.
type CheckStatus string

const (
	CheckStatusPending     CheckStatus = "pending"
	CheckStatusUnderReview CheckStatus = "under_review"
	CheckStatusApproved    CheckStatus = "approved"
	CheckStatusRejected    CheckStatus = "rejected"
)

// RuleCode identifies a scoring rule.
type RuleCode string

const (
	RuleVelocityBreach    RuleCode = "velocity_breach"
	RuleCriticalAmount    RuleCode = "critical_amount"
	RuleHighAmount        RuleCode = "high_amount"
	RuleRoundAmount       RuleCode = "round_amount"
	RuleBackAndForth      RuleCode = "back_and_forth"
	RuleRapidTransactions RuleCode = "rapid_transactions"
	RuleUserRisk          RuleCode = "user_risk"
	RuleIPBlocklist       RuleCode = "ip_blocklist"

	// RuleEvaluationDegraded marks a check whose evaluation failed
	// partway. It carries zero points; the decision fails closed instead.
	RuleEvaluationDegraded RuleCode = "evaluation_degraded"
)

// VelocityEvidence captures the breached limit's state at evaluation time.
type VelocityEvidence struct {
	LimitType        LimitType    `json:"limit_type"`
	AmountLimit      money.Amount `json:"amount_limit"`
	TransactionLimit int          `json:"transaction_limit"`
	CurrentAmount    money.Amount `json:"current_amount"`
	CurrentCount     int          `json:"current_count"`
	AttemptedAmount  money.Amount `json:"attempted_amount"`
}

// AmountEvidence captures a threshold comparison.
type AmountEvidence struct {
	Amount    money.Amount `json:"amount"`
	Threshold money.Amount `json:"threshold"`
}

// BackAndForthEvidence captures reciprocal-payment counts for a pair.
type BackAndForthEvidence struct {
	CounterpartyID uuid.UUID `json:"counterparty_id"`
	Count          int       `json:"count"`
	Threshold      int       `json:"threshold"`
	WindowSeconds  int64     `json:"window_seconds"`
}

// RapidEvidence captures short-window transaction counts.
type RapidEvidence struct {
	Count         int   `json:"count"`
	Threshold     int   `json:"threshold"`
	WindowSeconds int64 `json:"window_seconds"`
}

// StructuringEvidence captures the statistics behind a structuring flag.
type StructuringEvidence struct {
	Count             int          `json:"count"`
	TotalAmount       money.Amount `json:"total_amount"`
	MeanAmount        money.Amount `json:"mean_amount"`
	MeanAbsDeviation  money.Amount `json:"mean_abs_deviation"`
	DeviationRatio    float64      `json:"deviation_ratio"`
	WindowSeconds     int64        `json:"window_seconds"`
	AmountThreshold   money.Amount `json:"amount_threshold"`
	MeanAmountCeiling money.Amount `json:"mean_amount_ceiling"`
}

// UserRiskEvidence captures the long-term profile contribution.
type UserRiskEvidence struct {
	ProfileScore        float64 `json:"profile_score"`
	Weight              float64 `json:"weight"`
	ActivityScoreSum    float64 `json:"activity_score_sum"`
	DailyUsageSurcharge float64 `json:"daily_usage_surcharge"`
	AccountAgeSurcharge float64 `json:"account_age_surcharge"`
	AccountAgeDays      int     `json:"account_age_days"`
}

// IPEvidence captures a blocklisted source address.
type IPEvidence struct {
	IPAddress string `json:"ip_address"`
}

// RuleEvidence is one triggered rule with its typed evidence. Exactly one
// of the detail pointers is set for a given rule; Caveat marks degraded
// evaluations where a detector failed and contributed zero points.
type RuleEvidence struct {
	Rule   RuleCode `json:"rule"`
	Points float64  `json:"points"`
	Caveat string   `json:"caveat,omitempty"`

	Velocity     *VelocityEvidence     `json:"velocity,omitempty"`
	Amount       *AmountEvidence       `json:"amount,omitempty"`
	BackAndForth *BackAndForthEvidence `json:"back_and_forth,omitempty"`
	Rapid        *RapidEvidence        `json:"rapid,omitempty"`
	UserRisk     *UserRiskEvidence     `json:"user_risk,omitempty"`
	IP           *IPEvidence           `json:"ip,omitempty"`
}

// RiskCheck is the persisted, append-only record of one evaluation.
// Only the review fields mutate after creation.
type RiskCheck struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	UserID         uuid.UUID      `json:"user_id" db:"user_id"`
	PaymentID      *uuid.UUID     `json:"payment_id,omitempty" db:"payment_id"`
	CheckType      CheckType      `json:"check_type" db:"check_type"`
	RiskScore      float64        `json:"risk_score" db:"risk_score"`
	RiskLevel      RiskLevel      `json:"risk_level" db:"risk_level"`
	TriggeredRules []RuleEvidence `json:"triggered_rules" db:"triggered_rules"`
	Status         CheckStatus    `json:"status" db:"status"`
	PaymentBlocked bool           `json:"payment_blocked" db:"payment_blocked"`
	UserFlagged    bool           `json:"user_flagged" db:"user_flagged"`
	AdminNotified  bool           `json:"admin_notified" db:"admin_notified"`
	IPAddress      *string        `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      *string        `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ReviewedBy     *uuid.UUID     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes    *string        `json:"review_notes,omitempty" db:"review_notes"`
}

// CanBeReviewed reports whether the check is still awaiting a verdict.
func (c *RiskCheck) CanBeReviewed() bool {
	return c.Status == CheckStatusPending || c.Status == CheckStatusUnderReview
}

// RiskDecision is the synchronous result returned to the payment path.
type RiskDecision struct {
	CheckID        uuid.UUID      `json:"check_id"`
	Approved       bool           `json:"approved"`
	RiskScore      float64        `json:"risk_score"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	TriggeredRules []RuleEvidence `json:"triggered_rules"`
	RequiresReview bool           `json:"requires_review"`
	BlockingReason string         `json:"blocking_reason,omitempty"`
}
