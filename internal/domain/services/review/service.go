package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/pkg/errors"
)

// Service handles the manual side of risk management: reviewing checks
// that the evaluator held or blocked, and resolving suspicious activity
// records.
type Service struct {
	checks     repositories.RiskCheckRepository
	activities repositories.SuspiciousActivityRepository
	outcomes   repositories.OutcomeStore
	logger     *zap.Logger
}

// NewService creates a review service.
func NewService(
	checks repositories.RiskCheckRepository,
	activities repositories.SuspiciousActivityRepository,
	outcomes repositories.OutcomeStore,
	logger *zap.Logger,
) *Service {
	return &Service{
		checks:     checks,
		activities: activities,
		outcomes:   outcomes,
		logger:     logger,
	}
}

// GetCheck returns one risk check.
func (s *Service) GetCheck(ctx context.Context, id uuid.UUID) (*entities.RiskCheck, error) {
	check, err := s.checks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return check, nil
}

// ListPendingChecks returns checks awaiting a verdict, newest first.
func (s *Service) ListPendingChecks(ctx context.Context, limit, offset int) ([]*entities.RiskCheck, error) {
	return s.checks.ListPending(ctx, limit, offset)
}

// ListUserChecks returns a user's check history.
func (s *Service) ListUserChecks(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.RiskCheck, error) {
	return s.checks.ListByUser(ctx, userID, limit, offset)
}

// ReviewCheck records an admin verdict on a pending check. Approving a
// check that blocked a payment releases the payment and clears the user
// flag; rejecting keeps the block. Both writes land in one transaction
// with the check update.
func (s *Service) ReviewCheck(ctx context.Context, checkID, reviewerID uuid.UUID, approve bool, notes string) (*entities.RiskCheck, error) {
	check, err := s.checks.GetByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if !check.CanBeReviewed() {
		return nil, errors.AlreadyReviewed(checkID.String())
	}

	commit := &repositories.ReviewCommit{
		CheckID:    checkID,
		ReviewerID: reviewerID,
		Notes:      notes,
		UserID:     check.UserID,
	}
	if approve {
		commit.Status = entities.CheckStatusApproved
		commit.UnflagUser = check.UserFlagged
		if check.PaymentBlocked && check.PaymentID != nil {
			commit.PaymentID = check.PaymentID
			commit.PaymentStatus = entities.PaymentRiskApproved
		}
	} else {
		commit.Status = entities.CheckStatusRejected
		if check.PaymentID != nil {
			commit.PaymentID = check.PaymentID
			commit.PaymentStatus = entities.PaymentRiskBlocked
		}
	}

	if err := s.outcomes.ApplyReview(ctx, commit); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to apply review")
	}

	s.logger.Info("risk check reviewed",
		zap.String("check_id", checkID.String()),
		zap.String("reviewer_id", reviewerID.String()),
		zap.Bool("approved", approve),
	)

	now := time.Now().UTC()
	check.Status = commit.Status
	check.ReviewedBy = &reviewerID
	check.ReviewedAt = &now
	if notes != "" {
		check.ReviewNotes = &notes
	}
	return check, nil
}

// ListActivities returns suspicious activity records by status.
func (s *Service) ListActivities(ctx context.Context, status entities.ActivityStatus, limit, offset int) ([]*entities.SuspiciousActivity, error) {
	return s.activities.ListByStatus(ctx, status, limit, offset)
}

// ResolveActivity closes a suspicious activity record so it stops feeding
// the user's profile score.
func (s *Service) ResolveActivity(ctx context.Context, activityID, resolverID uuid.UUID, notes string) error {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return err
	}
	if !activity.IsOpen() {
		return errors.AlreadyReviewed(activityID.String())
	}
	if err := s.activities.Resolve(ctx, activityID, resolverID, notes); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve activity")
	}
	s.logger.Info("suspicious activity resolved",
		zap.String("activity_id", activityID.String()),
		zap.String("resolver_id", resolverID.String()),
	)
	return nil
}
