package review

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/pkg/errors"
)

type MockCheckRepository struct {
	mock.Mock
}

func (m *MockCheckRepository) Create(ctx context.Context, check *entities.RiskCheck) error {
	args := m.Called(ctx, check)
	return args.Error(0)
}

func (m *MockCheckRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RiskCheck, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RiskCheck), args.Error(1)
}

func (m *MockCheckRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.RiskCheck, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RiskCheck), args.Error(1)
}

func (m *MockCheckRepository) ListPending(ctx context.Context, limit, offset int) ([]*entities.RiskCheck, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RiskCheck), args.Error(1)
}

type MockActivityRepository struct {
	mock.Mock
}

func (m *MockActivityRepository) Record(ctx context.Context, activity *entities.SuspiciousActivity) error {
	args := m.Called(ctx, activity)
	return args.Error(0)
}

func (m *MockActivityRepository) ListOpenByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.SuspiciousActivity, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.SuspiciousActivity), args.Error(1)
}

func (m *MockActivityRepository) ListByStatus(ctx context.Context, status entities.ActivityStatus, limit, offset int) ([]*entities.SuspiciousActivity, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.SuspiciousActivity), args.Error(1)
}

func (m *MockActivityRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.SuspiciousActivity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SuspiciousActivity), args.Error(1)
}

func (m *MockActivityRepository) Resolve(ctx context.Context, id, resolverID uuid.UUID, notes string) error {
	args := m.Called(ctx, id, resolverID, notes)
	return args.Error(0)
}

func (m *MockActivityRepository) EscalateStale(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type MockOutcomeStore struct {
	mock.Mock
}

func (m *MockOutcomeStore) PersistOutcome(ctx context.Context, commit *repositories.OutcomeCommit) error {
	args := m.Called(ctx, commit)
	return args.Error(0)
}

func (m *MockOutcomeStore) ApplyReview(ctx context.Context, commit *repositories.ReviewCommit) error {
	args := m.Called(ctx, commit)
	return args.Error(0)
}

func createTestService() (*Service, *MockCheckRepository, *MockActivityRepository, *MockOutcomeStore) {
	checks := new(MockCheckRepository)
	activities := new(MockActivityRepository)
	outcomes := new(MockOutcomeStore)
	return NewService(checks, activities, outcomes, zap.NewNop()), checks, activities, outcomes
}

func blockedCheck() *entities.RiskCheck {
	paymentID := uuid.New()
	return &entities.RiskCheck{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		PaymentID:      &paymentID,
		CheckType:      entities.CheckTypePayment,
		RiskScore:      85,
		RiskLevel:      entities.RiskLevelCritical,
		Status:         entities.CheckStatusPending,
		PaymentBlocked: true,
		UserFlagged:    true,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestReviewCheck_ApproveReleasesPayment(t *testing.T) {
	svc, checks, _, outcomes := createTestService()
	check := blockedCheck()
	reviewer := uuid.New()

	checks.On("GetByID", mock.Anything, check.ID).Return(check, nil)
	outcomes.On("ApplyReview", mock.Anything, mock.MatchedBy(func(c *repositories.ReviewCommit) bool {
		return c.Status == entities.CheckStatusApproved &&
			c.PaymentID != nil && *c.PaymentID == *check.PaymentID &&
			c.PaymentStatus == entities.PaymentRiskApproved &&
			c.UnflagUser
	})).Return(nil)

	reviewed, err := svc.ReviewCheck(context.Background(), check.ID, reviewer, true, "verified with customer")

	require.NoError(t, err)
	assert.Equal(t, entities.CheckStatusApproved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, reviewer, *reviewed.ReviewedBy)
	outcomes.AssertExpectations(t)
}

func TestReviewCheck_RejectKeepsBlock(t *testing.T) {
	svc, checks, _, outcomes := createTestService()
	check := blockedCheck()

	checks.On("GetByID", mock.Anything, check.ID).Return(check, nil)
	outcomes.On("ApplyReview", mock.Anything, mock.MatchedBy(func(c *repositories.ReviewCommit) bool {
		return c.Status == entities.CheckStatusRejected &&
			c.PaymentStatus == entities.PaymentRiskBlocked &&
			!c.UnflagUser
	})).Return(nil)

	reviewed, err := svc.ReviewCheck(context.Background(), check.ID, uuid.New(), false, "confirmed fraud")

	require.NoError(t, err)
	assert.Equal(t, entities.CheckStatusRejected, reviewed.Status)
}

func TestReviewCheck_AlreadyReviewed(t *testing.T) {
	svc, checks, _, _ := createTestService()
	check := blockedCheck()
	check.Status = entities.CheckStatusApproved

	checks.On("GetByID", mock.Anything, check.ID).Return(check, nil)

	_, err := svc.ReviewCheck(context.Background(), check.ID, uuid.New(), true, "")

	require.Error(t, err)
	riskErr, ok := err.(*errors.RiskError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeAlreadyReviewed, riskErr.Code)
}

func TestResolveActivity_ClosesOpenRecord(t *testing.T) {
	svc, _, activities, _ := createTestService()
	activity := &entities.SuspiciousActivity{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: entities.ActivityStatusActive,
	}
	resolver := uuid.New()

	activities.On("GetByID", mock.Anything, activity.ID).Return(activity, nil)
	activities.On("Resolve", mock.Anything, activity.ID, resolver, "benign pattern").Return(nil)

	err := svc.ResolveActivity(context.Background(), activity.ID, resolver, "benign pattern")

	require.NoError(t, err)
	activities.AssertExpectations(t)
}

func TestResolveActivity_AlreadyResolved(t *testing.T) {
	svc, _, activities, _ := createTestService()
	activity := &entities.SuspiciousActivity{
		ID:     uuid.New(),
		Status: entities.ActivityStatusResolved,
	}

	activities.On("GetByID", mock.Anything, activity.ID).Return(activity, nil)

	err := svc.ResolveActivity(context.Background(), activity.ID, uuid.New(), "")

	assert.Error(t, err)
}
