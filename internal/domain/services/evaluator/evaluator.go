package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/domain/services/patterns"
	"github.com/lumipay/risk-engine/internal/domain/services/profile"
	"github.com/lumipay/risk-engine/internal/domain/services/velocity"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/metrics"
	"github.com/lumipay/risk-engine/pkg/money"
)

// Rule contributions. The user risk rule is weighted, not fixed; its
// weight lives in userRiskWeight.
const (
	pointsVelocityBreach = 30.0
	pointsCriticalAmount = 40.0
	pointsHighAmount     = 20.0
	pointsRoundAmount    = 10.0
	pointsBackAndForth   = 25.0
	pointsRapid          = 20.0
	pointsIPBlocklist    = 25.0

	userRiskWeight = 0.3
)

// Suspicious activity scores recorded when detectors fire. These feed the
// profiler on later evaluations rather than the current score.
const (
	activityScoreStructuring  = 25.0
	activityScoreBackAndForth = 20.0
	activityScoreRapid        = 15.0
)

// Blocklist answers membership queries against an immutable IP snapshot.
type Blocklist interface {
	Contains(ip string) bool
}

// AlertNotifier delivers high-risk notifications to the fraud team.
type AlertNotifier interface {
	NotifyHighRisk(ctx context.Context, check *entities.RiskCheck) error
}

// PaymentInput describes the payment awaiting a verdict. The payment row
// already exists in a pre-risk state; this engine only decides whether it
// may proceed.
type PaymentInput struct {
	PaymentID uuid.UUID
	PayerID   uuid.UUID
	PayeeID   uuid.UUID
	Amount    money.Amount
	IPAddress *string
	UserAgent *string
}

// Evaluator scores payments and records the verdict. Scoring is additive
// over independent rules; the decision thresholds and the atomic outcome
// write are the only stateful parts.
//
// Failure policy is fail-closed: if any dependency errors mid-evaluation,
// the payment is held for review rather than approved on a partial score.
type Evaluator struct {
	tracker    *velocity.Tracker
	detector   *patterns.Detector
	profiler   *profile.Profiler
	history    repositories.PaymentHistoryRepository
	activities repositories.SuspiciousActivityRepository
	outcomes   repositories.OutcomeStore
	blocklist  Blocklist
	notifier   AlertNotifier
	cfg        config.RiskConfig
	alertScore float64
	logger     *zap.Logger
}

// NewEvaluator wires the evaluator. blocklist and notifier may not be nil;
// pass no-op implementations when the deployment disables them.
func NewEvaluator(
	tracker *velocity.Tracker,
	detector *patterns.Detector,
	profiler *profile.Profiler,
	history repositories.PaymentHistoryRepository,
	activities repositories.SuspiciousActivityRepository,
	outcomes repositories.OutcomeStore,
	blocklist Blocklist,
	notifier AlertNotifier,
	cfg config.RiskConfig,
	alertScore float64,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		tracker:    tracker,
		detector:   detector,
		profiler:   profiler,
		history:    history,
		activities: activities,
		outcomes:   outcomes,
		blocklist:  blocklist,
		notifier:   notifier,
		cfg:        cfg,
		alertScore: alertScore,
		logger:     logger,
	}
}

// EvaluatePayment runs every rule against the payment and persists the
// check together with the payment's risk transition. The returned decision
// is final for the synchronous path; manual review can later overturn it.
func (e *Evaluator) EvaluatePayment(ctx context.Context, in *PaymentInput) (*entities.RiskDecision, error) {
	start := time.Now()
	now := start.UTC()

	velocityResult, err := e.tracker.Check(ctx, in.PayerID, in.Amount, now)
	if err != nil {
		return e.failClosed(ctx, in, now, "velocity check unavailable", err), nil
	}

	edges, err := e.history.EdgesByUser(ctx, in.PayerID, now.Add(-e.cfg.HistoryWindow()))
	if err != nil {
		return e.failClosed(ctx, in, now, "transaction history unavailable", err), nil
	}
	// The pending payment is part of the behavior being judged.
	edges = append(edges, entities.TransactionEdge{
		PayerID:   in.PayerID,
		PayeeID:   in.PayeeID,
		Amount:    in.Amount,
		Timestamp: now,
	})

	userRisk, err := e.profiler.Score(ctx, in.PayerID, now)
	if err != nil {
		return e.failClosed(ctx, in, now, "user profile unavailable", err), nil
	}

	var rules []entities.RuleEvidence

	if !velocityResult.Passed {
		rules = append(rules, entities.RuleEvidence{
			Rule:     entities.RuleVelocityBreach,
			Points:   pointsVelocityBreach,
			Velocity: velocityResult.Breach,
		})
	}

	switch {
	case in.Amount >= money.Amount(e.cfg.CriticalAmountCents):
		rules = append(rules, entities.RuleEvidence{
			Rule:   entities.RuleCriticalAmount,
			Points: pointsCriticalAmount,
			Amount: &entities.AmountEvidence{Amount: in.Amount, Threshold: money.Amount(e.cfg.CriticalAmountCents)},
		})
	case in.Amount >= money.Amount(e.cfg.HighAmountCents):
		rules = append(rules, entities.RuleEvidence{
			Rule:   entities.RuleHighAmount,
			Points: pointsHighAmount,
			Amount: &entities.AmountEvidence{Amount: in.Amount, Threshold: money.Amount(e.cfg.HighAmountCents)},
		})
	}

	if in.Amount.IsNearRound(e.cfg.RoundAmountToleranceCents) {
		rules = append(rules, entities.RuleEvidence{
			Rule:   entities.RuleRoundAmount,
			Points: pointsRoundAmount,
			Amount: &entities.AmountEvidence{Amount: in.Amount},
		})
	}

	if ev := e.detector.BackAndForth(edges, in.PayerID, in.PayeeID, now); ev != nil {
		rules = append(rules, entities.RuleEvidence{
			Rule:         entities.RuleBackAndForth,
			Points:       pointsBackAndForth,
			BackAndForth: ev,
		})
		e.recordActivity(ctx, in.PayerID, entities.ActivityBackAndForth, activityScoreBackAndForth,
			fmt.Sprintf("%d transfers with the same counterparty in the window", ev.Count), nil, now)
	}

	if ev := e.detector.RapidTransactions(edges, in.PayerID, now); ev != nil {
		rules = append(rules, entities.RuleEvidence{
			Rule:   entities.RuleRapidTransactions,
			Points: pointsRapid,
			Rapid:  ev,
		})
		e.recordActivity(ctx, in.PayerID, entities.ActivityRapidTransactions, activityScoreRapid,
			fmt.Sprintf("%d outgoing payments within %ds", ev.Count, ev.WindowSeconds), nil, now)
	}

	// Structuring contributes through the user profile on later
	// evaluations, not through a direct rule entry.
	if ev := e.detector.Structuring(edges, in.PayerID, now); ev != nil {
		e.recordActivity(ctx, in.PayerID, entities.ActivityStructuringBehavior, activityScoreStructuring,
			fmt.Sprintf("%d similar payments totaling %s", ev.Count, ev.TotalAmount), ev, now)
	}

	if in.IPAddress != nil && e.blocklist.Contains(*in.IPAddress) {
		rules = append(rules, entities.RuleEvidence{
			Rule:   entities.RuleIPBlocklist,
			Points: pointsIPBlocklist,
			IP:     &entities.IPEvidence{IPAddress: *in.IPAddress},
		})
	}

	if userRisk.ProfileScore > 0 {
		userRisk.Weight = userRiskWeight
		rules = append(rules, entities.RuleEvidence{
			Rule:     entities.RuleUserRisk,
			Points:   userRisk.ProfileScore * userRiskWeight,
			UserRisk: userRisk,
		})
	}

	var score float64
	for _, r := range rules {
		score += r.Points
		metrics.RecordRuleTrigger(string(r.Rule))
	}
	if score > 100 {
		score = 100
	}

	check, decision := e.decide(in, rules, score, now)
	e.maybeNotify(ctx, check)

	commit := &repositories.OutcomeCommit{
		Check:           check,
		PaymentID:       &in.PaymentID,
		PaymentStatus:   paymentStatusFor(decision),
		FlagUser:        check.UserFlagged,
		VelocityAmount:  in.Amount,
		CommitVelocity:  decision.Approved,
		EnforceVelocity: velocityResult.Passed,
	}
	if err := e.outcomes.PersistOutcome(ctx, commit); err != nil {
		var breach *repositories.VelocityBreachError
		if errors.As(err, &breach) {
			return e.holdOnVelocityContention(ctx, in, rules, score, breach, now), nil
		}
		metrics.FailClosedTotal.Inc()
		e.logger.Error("failed to persist risk outcome, failing closed",
			zap.String("payment_id", in.PaymentID.String()),
			zap.Error(err),
		)
		decision.Approved = false
		decision.RequiresReview = true
		decision.BlockingReason = "risk verdict could not be recorded"
		return decision, nil
	}

	metrics.RecordEvaluation(decisionLabel(decision), string(check.RiskLevel), time.Since(start).Seconds())
	e.logger.Info("payment evaluated",
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("payer_id", in.PayerID.String()),
		zap.Float64("risk_score", score),
		zap.String("risk_level", string(check.RiskLevel)),
		zap.Bool("approved", decision.Approved),
		zap.Int("triggered_rules", len(rules)),
	)
	return decision, nil
}

// EvaluateUser scores a user outside any payment, for admin-triggered
// sweeps. Only the profile contributes; the check is persisted with no
// payment transition.
func (e *Evaluator) EvaluateUser(ctx context.Context, userID uuid.UUID) (*entities.RiskDecision, error) {
	now := time.Now().UTC()

	userRisk, err := e.profiler.Score(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	var rules []entities.RuleEvidence
	score := 0.0
	if userRisk.ProfileScore > 0 {
		userRisk.Weight = 1.0
		score = userRisk.ProfileScore
		rules = append(rules, entities.RuleEvidence{
			Rule:     entities.RuleUserRisk,
			Points:   score,
			UserRisk: userRisk,
		})
	}

	level := entities.RiskLevelForScore(score)
	check := &entities.RiskCheck{
		ID:             uuid.New(),
		UserID:         userID,
		CheckType:      entities.CheckTypeActivity,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
		Status:         entities.CheckStatusApproved,
		CreatedAt:      now,
	}
	if score >= e.cfg.ManualReviewScore {
		check.Status = entities.CheckStatusPending
	}
	if score >= e.cfg.AutoBlockScore {
		check.UserFlagged = true
	}

	e.maybeNotify(ctx, check)
	// No payment rides on this verdict, so a failed persist surfaces as a
	// plain error instead of the payment path's fail-closed decision.
	if err := e.outcomes.PersistOutcome(ctx, &repositories.OutcomeCommit{
		Check:    check,
		FlagUser: check.UserFlagged,
	}); err != nil {
		return nil, err
	}

	return &entities.RiskDecision{
		CheckID:        check.ID,
		Approved:       score < e.cfg.AutoBlockScore,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
		RequiresReview: score >= e.cfg.ManualReviewScore,
	}, nil
}

func (e *Evaluator) decide(in *PaymentInput, rules []entities.RuleEvidence, score float64, now time.Time) (*entities.RiskCheck, *entities.RiskDecision) {
	level := entities.RiskLevelForScore(score)
	// A critical-threshold amount is never a low-risk event, whatever the
	// other rules said.
	for _, r := range rules {
		if r.Rule == entities.RuleCriticalAmount {
			level = level.Max(entities.RiskLevelHigh)
		}
	}
	check := &entities.RiskCheck{
		ID:             uuid.New(),
		UserID:         in.PayerID,
		PaymentID:      &in.PaymentID,
		CheckType:      entities.CheckTypePayment,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
		Status:         entities.CheckStatusApproved,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		CreatedAt:      now,
	}
	decision := &entities.RiskDecision{
		CheckID:        check.ID,
		Approved:       true,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
	}

	switch {
	case score >= e.cfg.AutoBlockScore:
		check.Status = entities.CheckStatusPending
		check.PaymentBlocked = true
		check.UserFlagged = true
		decision.Approved = false
		decision.RequiresReview = true
		decision.BlockingReason = fmt.Sprintf("risk score %.0f at or above auto-block threshold %.0f", score, e.cfg.AutoBlockScore)
	case score >= e.cfg.ManualReviewScore:
		check.Status = entities.CheckStatusPending
		decision.RequiresReview = true
	}

	return check, decision
}

// failClosed records a degraded check and holds the payment. The caller
// gets a decision, never an error; a broken dependency must not translate
// into an approved payment.
func (e *Evaluator) failClosed(ctx context.Context, in *PaymentInput, now time.Time, caveat string, cause error) *entities.RiskDecision {
	metrics.FailClosedTotal.Inc()
	metrics.DetectorFailuresTotal.WithLabelValues(caveat).Inc()
	e.logger.Error("risk evaluation degraded, failing closed",
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("caveat", caveat),
		zap.Error(cause),
	)

	rules := []entities.RuleEvidence{{
		Rule:   entities.RuleEvaluationDegraded,
		Points: 0,
		Caveat: caveat,
	}}
	check := &entities.RiskCheck{
		ID:             uuid.New(),
		UserID:         in.PayerID,
		PaymentID:      &in.PaymentID,
		CheckType:      entities.CheckTypePayment,
		RiskScore:      0,
		RiskLevel:      entities.RiskLevelLow,
		TriggeredRules: rules,
		Status:         entities.CheckStatusPending,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		CreatedAt:      now,
	}

	if err := e.outcomes.PersistOutcome(ctx, &repositories.OutcomeCommit{
		Check:         check,
		PaymentID:     &in.PaymentID,
		PaymentStatus: entities.PaymentRiskHeld,
	}); err != nil {
		e.logger.Error("failed to persist degraded risk check",
			zap.String("payment_id", in.PaymentID.String()),
			zap.Error(err),
		)
	}

	return &entities.RiskDecision{
		CheckID:        check.ID,
		Approved:       false,
		RiskScore:      0,
		RiskLevel:      entities.RiskLevelLow,
		TriggeredRules: rules,
		RequiresReview: true,
		BlockingReason: "risk evaluation unavailable: " + caveat,
	}
}

// holdOnVelocityContention handles a breach surfaced by the commit-time
// re-check: the limit had room when Check ran, but a concurrent payment
// consumed it before this one committed. The losing payment is held for
// review with the breach on record rather than approved past the cap.
func (e *Evaluator) holdOnVelocityContention(ctx context.Context, in *PaymentInput, rules []entities.RuleEvidence, score float64, breach *repositories.VelocityBreachError, now time.Time) *entities.RiskDecision {
	e.logger.Warn("velocity headroom consumed by concurrent payment, holding",
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("payer_id", in.PayerID.String()),
		zap.String("limit_type", string(breach.Breach.LimitType)),
	)

	rules = append(rules, entities.RuleEvidence{
		Rule:     entities.RuleVelocityBreach,
		Points:   pointsVelocityBreach,
		Velocity: breach.Breach,
	})
	metrics.RecordRuleTrigger(string(entities.RuleVelocityBreach))
	score += pointsVelocityBreach
	if score > 100 {
		score = 100
	}

	level := entities.RiskLevelForScore(score)
	for _, r := range rules {
		if r.Rule == entities.RuleCriticalAmount {
			level = level.Max(entities.RiskLevelHigh)
		}
	}

	check := &entities.RiskCheck{
		ID:             uuid.New(),
		UserID:         in.PayerID,
		PaymentID:      &in.PaymentID,
		CheckType:      entities.CheckTypePayment,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
		Status:         entities.CheckStatusPending,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		CreatedAt:      now,
	}
	if err := e.outcomes.PersistOutcome(ctx, &repositories.OutcomeCommit{
		Check:         check,
		PaymentID:     &in.PaymentID,
		PaymentStatus: entities.PaymentRiskHeld,
	}); err != nil {
		e.logger.Error("failed to persist contended risk check",
			zap.String("payment_id", in.PaymentID.String()),
			zap.Error(err),
		)
	}

	return &entities.RiskDecision{
		CheckID:        check.ID,
		Approved:       false,
		RiskScore:      score,
		RiskLevel:      level,
		TriggeredRules: rules,
		RequiresReview: true,
		BlockingReason: "velocity limit consumed by a concurrent payment",
	}
}

func (e *Evaluator) recordActivity(ctx context.Context, userID uuid.UUID, activityType entities.ActivityType, score float64, description string, structuring *entities.StructuringEvidence, now time.Time) {
	activity := &entities.SuspiciousActivity{
		ID:              uuid.New(),
		UserID:          userID,
		ActivityType:    activityType,
		Description:     description,
		RiskScore:       score,
		Structuring:     structuring,
		FirstDetectedAt: now,
		LastDetectedAt:  now,
		Frequency:       1,
		Status:          entities.ActivityStatusActive,
	}
	if err := e.activities.Record(ctx, activity); err != nil {
		// Non-fatal: the current decision does not depend on the record.
		e.logger.Warn("failed to record suspicious activity",
			zap.String("user_id", userID.String()),
			zap.String("activity_type", string(activityType)),
			zap.Error(err),
		)
	}
}

func (e *Evaluator) maybeNotify(ctx context.Context, check *entities.RiskCheck) {
	if check.RiskScore < e.alertScore {
		return
	}
	if err := e.notifier.NotifyHighRisk(ctx, check); err != nil {
		metrics.AlertsSentTotal.WithLabelValues("email", "error").Inc()
		e.logger.Warn("failed to send high-risk alert",
			zap.String("check_id", check.ID.String()),
			zap.Error(err),
		)
		return
	}
	metrics.AlertsSentTotal.WithLabelValues("email", "sent").Inc()
	check.AdminNotified = true
}

func paymentStatusFor(decision *entities.RiskDecision) entities.PaymentRiskStatus {
	if !decision.Approved {
		return entities.PaymentRiskBlocked
	}
	return entities.PaymentRiskApproved
}

func decisionLabel(decision *entities.RiskDecision) string {
	switch {
	case !decision.Approved:
		return "blocked"
	case decision.RequiresReview:
		return "review"
	default:
		return "approved"
	}
}
