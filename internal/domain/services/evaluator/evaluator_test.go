package evaluator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/domain/services/patterns"
	"github.com/lumipay/risk-engine/internal/domain/services/profile"
	"github.com/lumipay/risk-engine/internal/domain/services/velocity"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/money"
)

type MockLimitRepository struct {
	mock.Mock
}

func (m *MockLimitRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*entities.VelocityLimit, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.VelocityLimit), args.Error(1)
}

func (m *MockLimitRepository) Upsert(ctx context.Context, limit *entities.VelocityLimit) error {
	args := m.Called(ctx, limit)
	return args.Error(0)
}

func (m *MockLimitRepository) CommitUsage(ctx context.Context, userID uuid.UUID, amount money.Amount, now time.Time, enforce bool) error {
	args := m.Called(ctx, userID, amount, now, enforce)
	return args.Error(0)
}

func (m *MockLimitRepository) Deactivate(ctx context.Context, userID uuid.UUID, limitType entities.LimitType) error {
	args := m.Called(ctx, userID, limitType)
	return args.Error(0)
}

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) EdgesByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]entities.TransactionEdge, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.TransactionEdge), args.Error(1)
}

func (m *MockHistoryRepository) EdgesAmong(ctx context.Context, userIDs []uuid.UUID, since time.Time) ([]entities.TransactionEdge, error) {
	args := m.Called(ctx, userIDs, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.TransactionEdge), args.Error(1)
}

func (m *MockHistoryRepository) CountByPayer(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
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

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) SetFlagged(ctx context.Context, id uuid.UUID, flagged bool) error {
	args := m.Called(ctx, id, flagged)
	return args.Error(0)
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

type stubBlocklist map[string]bool

func (s stubBlocklist) Contains(ip string) bool { return s[ip] }

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) NotifyHighRisk(ctx context.Context, check *entities.RiskCheck) error {
	s.calls++
	return s.err
}

type fixture struct {
	limits     *MockLimitRepository
	history    *MockHistoryRepository
	activities *MockActivityRepository
	users      *MockUserRepository
	outcomes   *MockOutcomeStore
	blocklist  stubBlocklist
	notifier   *stubNotifier
	eval       *Evaluator

	lastCommit *repositories.OutcomeCommit
}

func evaluatorConfig() config.RiskConfig {
	return config.RiskConfig{
		AutoBlockScore:            80,
		ManualReviewScore:         60,
		HighAmountCents:           500_000,
		CriticalAmountCents:       1_000_000,
		RoundAmountToleranceCents: 1,
		HistoryWindowHours:        24,
		Velocity: config.VelocityDefaults{
			AmountLimitCents: 1_000_000,
			TransactionLimit: 50,
			WindowMinutes:    1440,
		},
		Structuring: config.StructuringConfig{
			WindowHours:         24,
			MinCount:            3,
			TotalThresholdCents: 100_000,
			MeanCeilingCents:    100_000,
			DeviationRatio:      0.1,
		},
		BackAndForth: config.BackAndForthConfig{WindowHours: 24, Threshold: 3},
		Rapid:        config.RapidConfig{WindowMinutes: 10, Threshold: 5},
		Graph:        config.GraphConfig{WindowHours: 168, Depth: 2, MaxUsers: 500},
		Profile: config.ProfileConfig{
			ActivityWindowDays:    30,
			ActivityWeight:        0.3,
			DailyTransactionCap:   100,
			DailyUsageRatio:       0.8,
			DailyUsageSurcharge:   20,
			YoungAccountDays:      30,
			YoungAccountSurcharge: 15,
			NewAccountDays:        90,
			NewAccountSurcharge:   5,
		},
	}
}

func newFixture() *fixture {
	f := &fixture{
		limits:     new(MockLimitRepository),
		history:    new(MockHistoryRepository),
		activities: new(MockActivityRepository),
		users:      new(MockUserRepository),
		outcomes:   new(MockOutcomeStore),
		blocklist:  stubBlocklist{},
		notifier:   &stubNotifier{},
	}
	cfg := evaluatorConfig()
	logger := zap.NewNop()
	tracker := velocity.NewTracker(f.limits, cfg.Velocity, logger)
	detector := patterns.NewDetector(cfg)
	profiler := profile.NewProfiler(f.activities, f.history, f.users, cfg.Profile, logger)
	f.eval = NewEvaluator(tracker, detector, profiler, f.history, f.activities, f.outcomes, f.blocklist, f.notifier, cfg, 60, logger)
	return f
}

func (f *fixture) expectHappyPath(payerID uuid.UUID, edges []entities.TransactionEdge, breached bool) {
	now := time.Now().UTC()
	limit := &entities.VelocityLimit{
		ID:               uuid.New(),
		UserID:           payerID,
		LimitType:        entities.LimitTypeDaily,
		AmountLimit:      money.Amount(100_000_000),
		TransactionLimit: 1000,
		TimeWindow:       24 * time.Hour,
		WindowStart:      now.Add(-time.Hour),
		IsActive:         true,
	}
	if breached {
		limit.CurrentTransactions = 1000
	}
	f.limits.On("ListActive", mock.Anything, payerID).Return([]*entities.VelocityLimit{limit}, nil)
	f.history.On("EdgesByUser", mock.Anything, payerID, mock.Anything).Return(edges, nil)
	f.users.On("GetByID", mock.Anything, payerID).
		Return(&entities.User{ID: payerID, CreatedAt: now.AddDate(-2, 0, 0)}, nil)
	f.activities.On("ListOpenByUser", mock.Anything, payerID, mock.Anything).
		Return([]*entities.SuspiciousActivity{}, nil)
	f.history.On("CountByPayer", mock.Anything, payerID, mock.Anything).Return(0, nil)
	f.outcomes.On("PersistOutcome", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.lastCommit = args.Get(1).(*repositories.OutcomeCommit)
		}).
		Return(nil)
}

func paymentInput(payer uuid.UUID, cents int64) *PaymentInput {
	return &PaymentInput{
		PaymentID: uuid.New(),
		PayerID:   payer,
		PayeeID:   uuid.New(),
		Amount:    money.Amount(cents),
	}
}

func findRule(rules []entities.RuleEvidence, code entities.RuleCode) *entities.RuleEvidence {
	for i := range rules {
		if rules[i].Rule == code {
			return &rules[i]
		}
	}
	return nil
}

func TestEvaluatePayment_CleanPaymentApproved(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, false)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.False(t, decision.RequiresReview)
	assert.Zero(t, decision.RiskScore)
	assert.Equal(t, entities.RiskLevelLow, decision.RiskLevel)
	assert.Empty(t, decision.TriggeredRules)

	require.NotNil(t, f.lastCommit)
	assert.Equal(t, entities.PaymentRiskApproved, f.lastCommit.PaymentStatus)
	assert.True(t, f.lastCommit.CommitVelocity)
	assert.True(t, f.lastCommit.EnforceVelocity)
	assert.Equal(t, entities.CheckStatusApproved, f.lastCommit.Check.Status)
	assert.Equal(t, 0, f.notifier.calls)
}

func TestEvaluatePayment_CriticalAmountAlwaysAtLeastHigh(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, false)

	// $10,000: critical (+40) and round (+10), score 50 which maps to
	// medium on its own. The level floor still applies.
	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 1_000_000))

	require.NoError(t, err)
	assert.InDelta(t, 50.0, decision.RiskScore, 0.001)
	assert.Equal(t, entities.RiskLevelHigh, decision.RiskLevel)
	assert.NotNil(t, findRule(decision.TriggeredRules, entities.RuleCriticalAmount))
	assert.Nil(t, findRule(decision.TriggeredRules, entities.RuleHighAmount))
}

func TestEvaluatePayment_HighAmountBelowCritical(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, false)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 600_050))

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleHighAmount)
	require.NotNil(t, rule)
	assert.InDelta(t, 20.0, rule.Points, 0.001)
	assert.Nil(t, findRule(decision.TriggeredRules, entities.RuleCriticalAmount))
	assert.Nil(t, findRule(decision.TriggeredRules, entities.RuleRoundAmount))
}

func TestEvaluatePayment_RoundAmountHeuristic(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, false)

	// $200.01 is within one cent of a whole dollar amount.
	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 20_001))

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleRoundAmount)
	require.NotNil(t, rule)
	assert.InDelta(t, 10.0, rule.Points, 0.001)
}

func TestEvaluatePayment_VelocityBreachScores(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, true)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleVelocityBreach)
	require.NotNil(t, rule)
	assert.InDelta(t, 30.0, rule.Points, 0.001)
	require.NotNil(t, rule.Velocity)
	assert.Equal(t, 1000, rule.Velocity.CurrentCount)
}

func TestEvaluatePayment_AutoBlock(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	// Velocity breach (+30), critical amount (+40), round amount (+10):
	// 80 points, at the auto-block threshold.
	f.expectHappyPath(payer, nil, true)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 1_000_000))

	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	assert.Equal(t, entities.RiskLevelCritical, decision.RiskLevel)
	assert.NotEmpty(t, decision.BlockingReason)

	require.NotNil(t, f.lastCommit)
	assert.Equal(t, entities.PaymentRiskBlocked, f.lastCommit.PaymentStatus)
	assert.False(t, f.lastCommit.CommitVelocity)
	assert.True(t, f.lastCommit.FlagUser)
	assert.True(t, f.lastCommit.Check.PaymentBlocked)
	assert.Equal(t, 1, f.notifier.calls)
	assert.True(t, f.lastCommit.Check.AdminNotified)
}

func TestEvaluatePayment_ManualReviewBandStaysApproved(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	// Velocity breach (+30), high amount (+20), round amount (+10): 60
	// points, inside the review band.
	f.expectHappyPath(payer, nil, true)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 500_000))

	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	assert.Equal(t, entities.RiskLevelHigh, decision.RiskLevel)

	require.NotNil(t, f.lastCommit)
	assert.Equal(t, entities.PaymentRiskApproved, f.lastCommit.PaymentStatus)
	assert.True(t, f.lastCommit.CommitVelocity)
	// The score already carries the breach; the commit must not also
	// reject on the stale counters.
	assert.False(t, f.lastCommit.EnforceVelocity)
	assert.Equal(t, entities.CheckStatusPending, f.lastCommit.Check.Status)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestEvaluatePayment_BackAndForthIncludesPendingPayment(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	payee := uuid.New()
	now := time.Now().UTC()

	edges := []entities.TransactionEdge{
		{PayerID: payer, PayeeID: payee, Amount: 10_050, Timestamp: now.Add(-2 * time.Hour)},
		{PayerID: payee, PayeeID: payer, Amount: 9_950, Timestamp: now.Add(-time.Hour)},
	}
	f.expectHappyPath(payer, edges, false)
	f.activities.On("Record", mock.Anything, mock.MatchedBy(func(a *entities.SuspiciousActivity) bool {
		return a.ActivityType == entities.ActivityBackAndForth && a.UserID == payer
	})).Return(nil)

	in := paymentInput(payer, 10_049)
	in.PayeeID = payee
	decision, err := f.eval.EvaluatePayment(context.Background(), in)

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleBackAndForth)
	require.NotNil(t, rule)
	assert.Equal(t, 3, rule.BackAndForth.Count)
	f.activities.AssertExpectations(t)
}

func TestEvaluatePayment_StructuringFeedsProfileNotScore(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	now := time.Now().UTC()

	var edges []entities.TransactionEdge
	for i, cents := range []int64{19_900, 20_100, 19_800, 20_200} {
		edges = append(edges, entities.TransactionEdge{
			PayerID:   payer,
			PayeeID:   uuid.New(),
			Amount:    money.Amount(cents),
			Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	f.expectHappyPath(payer, edges, false)
	f.activities.On("Record", mock.Anything, mock.MatchedBy(func(a *entities.SuspiciousActivity) bool {
		return a.ActivityType == entities.ActivityStructuringBehavior && a.Structuring != nil
	})).Return(nil)

	// The pending $200.00 payment completes the cluster.
	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 20_000))

	require.NoError(t, err)
	// Only the round-amount rule scores; structuring itself adds nothing
	// to this evaluation.
	assert.InDelta(t, 10.0, decision.RiskScore, 0.001)
	assert.NotNil(t, findRule(decision.TriggeredRules, entities.RuleRoundAmount))
	f.activities.AssertExpectations(t)
}

func TestEvaluatePayment_BlocklistedIP(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	f.expectHappyPath(payer, nil, false)
	f.blocklist["203.0.113.9"] = true

	in := paymentInput(payer, 12_345)
	ip := "203.0.113.9"
	in.IPAddress = &ip
	decision, err := f.eval.EvaluatePayment(context.Background(), in)

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleIPBlocklist)
	require.NotNil(t, rule)
	assert.InDelta(t, 25.0, rule.Points, 0.001)
	assert.Equal(t, ip, rule.IP.IPAddress)
}

func TestEvaluatePayment_UserRiskWeighted(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	now := time.Now().UTC()

	f.limits.On("ListActive", mock.Anything, payer).Return([]*entities.VelocityLimit{{
		ID: uuid.New(), UserID: payer, LimitType: entities.LimitTypeDaily,
		AmountLimit: 100_000_000, TransactionLimit: 1000,
		TimeWindow: 24 * time.Hour, WindowStart: now.Add(-time.Hour), IsActive: true,
	}}, nil)
	f.history.On("EdgesByUser", mock.Anything, payer, mock.Anything).Return([]entities.TransactionEdge{}, nil)
	f.users.On("GetByID", mock.Anything, payer).
		Return(&entities.User{ID: payer, CreatedAt: now.AddDate(-2, 0, 0)}, nil)
	f.activities.On("ListOpenByUser", mock.Anything, payer, mock.Anything).
		Return([]*entities.SuspiciousActivity{{ID: uuid.New(), UserID: payer, RiskScore: 40, Status: entities.ActivityStatusActive}}, nil)
	f.history.On("CountByPayer", mock.Anything, payer, mock.Anything).Return(0, nil)
	f.outcomes.On("PersistOutcome", mock.Anything, mock.Anything).Return(nil)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	rule := findRule(decision.TriggeredRules, entities.RuleUserRisk)
	require.NotNil(t, rule)
	// Profile score 12 (40 open activity points at 0.3 weight), then the
	// evaluator's 0.3 weight on top.
	assert.InDelta(t, 3.6, rule.Points, 0.001)
	assert.InDelta(t, 0.3, rule.UserRisk.Weight, 0.001)
}

func TestEvaluatePayment_PersistenceFailureNeverApproves(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	now := time.Now().UTC()

	f.limits.On("ListActive", mock.Anything, payer).Return([]*entities.VelocityLimit{{
		ID: uuid.New(), UserID: payer, LimitType: entities.LimitTypeDaily,
		AmountLimit: 100_000_000, TransactionLimit: 1000,
		TimeWindow: 24 * time.Hour, WindowStart: now.Add(-time.Hour), IsActive: true,
	}}, nil)
	f.history.On("EdgesByUser", mock.Anything, payer, mock.Anything).Return([]entities.TransactionEdge{}, nil)
	f.users.On("GetByID", mock.Anything, payer).
		Return(&entities.User{ID: payer, CreatedAt: now.AddDate(-2, 0, 0)}, nil)
	f.activities.On("ListOpenByUser", mock.Anything, payer, mock.Anything).
		Return([]*entities.SuspiciousActivity{}, nil)
	f.history.On("CountByPayer", mock.Anything, payer, mock.Anything).Return(0, nil)
	f.outcomes.On("PersistOutcome", mock.Anything, mock.Anything).Return(fmt.Errorf("connection reset"))

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	assert.NotEmpty(t, decision.BlockingReason)
}

func TestEvaluatePayment_ConcurrentVelocityCommitHeld(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	now := time.Now().UTC()

	// $1,000 daily cap with a clean window: a $600 payment passes the
	// unlocked check. By commit time a concurrent $600 payment has taken
	// the headroom, so the locked re-check reports the breach.
	f.limits.On("ListActive", mock.Anything, payer).Return([]*entities.VelocityLimit{{
		ID: uuid.New(), UserID: payer, LimitType: entities.LimitTypeDaily,
		AmountLimit: 100_000, TransactionLimit: 50,
		TimeWindow: 24 * time.Hour, WindowStart: now.Add(-time.Hour), IsActive: true,
	}}, nil)
	f.history.On("EdgesByUser", mock.Anything, payer, mock.Anything).Return([]entities.TransactionEdge{}, nil)
	f.users.On("GetByID", mock.Anything, payer).
		Return(&entities.User{ID: payer, CreatedAt: now.AddDate(-2, 0, 0)}, nil)
	f.activities.On("ListOpenByUser", mock.Anything, payer, mock.Anything).
		Return([]*entities.SuspiciousActivity{}, nil)
	f.history.On("CountByPayer", mock.Anything, payer, mock.Anything).Return(0, nil)

	breach := &repositories.VelocityBreachError{Breach: &entities.VelocityEvidence{
		LimitType:        entities.LimitTypeDaily,
		AmountLimit:      100_000,
		TransactionLimit: 50,
		CurrentAmount:    60_000,
		CurrentCount:     1,
		AttemptedAmount:  60_000,
	}}
	f.outcomes.On("PersistOutcome", mock.Anything, mock.MatchedBy(func(c *repositories.OutcomeCommit) bool {
		return c.CommitVelocity && c.EnforceVelocity
	})).Return(breach).Once()
	f.outcomes.On("PersistOutcome", mock.Anything, mock.MatchedBy(func(c *repositories.OutcomeCommit) bool {
		return c.PaymentStatus == entities.PaymentRiskHeld && !c.CommitVelocity
	})).Return(nil).Once()

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 60_000))

	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	assert.NotEmpty(t, decision.BlockingReason)
	rule := findRule(decision.TriggeredRules, entities.RuleVelocityBreach)
	require.NotNil(t, rule)
	assert.InDelta(t, 30.0, rule.Points, 0.001)
	require.NotNil(t, rule.Velocity)
	assert.Equal(t, money.Amount(60_000), rule.Velocity.CurrentAmount)
	f.outcomes.AssertExpectations(t)
}

func TestEvaluatePayment_VelocityErrorFailsClosed(t *testing.T) {
	f := newFixture()
	payer := uuid.New()

	f.limits.On("ListActive", mock.Anything, payer).Return(nil, fmt.Errorf("timeout"))
	f.outcomes.On("PersistOutcome", mock.Anything, mock.MatchedBy(func(c *repositories.OutcomeCommit) bool {
		return c.PaymentStatus == entities.PaymentRiskHeld && !c.CommitVelocity
	})).Return(nil)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
	rule := findRule(decision.TriggeredRules, entities.RuleEvaluationDegraded)
	require.NotNil(t, rule)
	assert.NotEmpty(t, rule.Caveat)
	f.outcomes.AssertExpectations(t)
}

func TestEvaluatePayment_ProfileErrorFailsClosed(t *testing.T) {
	f := newFixture()
	payer := uuid.New()
	now := time.Now().UTC()

	f.limits.On("ListActive", mock.Anything, payer).Return([]*entities.VelocityLimit{{
		ID: uuid.New(), UserID: payer, LimitType: entities.LimitTypeDaily,
		AmountLimit: 100_000_000, TransactionLimit: 1000,
		TimeWindow: 24 * time.Hour, WindowStart: now.Add(-time.Hour), IsActive: true,
	}}, nil)
	f.history.On("EdgesByUser", mock.Anything, payer, mock.Anything).Return([]entities.TransactionEdge{}, nil)
	f.users.On("GetByID", mock.Anything, payer).Return(nil, fmt.Errorf("no route to host"))
	f.outcomes.On("PersistOutcome", mock.Anything, mock.Anything).Return(nil)

	decision, err := f.eval.EvaluatePayment(context.Background(), paymentInput(payer, 12_345))

	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.True(t, decision.RequiresReview)
}

func TestEvaluateUser_ProfileOnly(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	now := time.Now().UTC()

	f.users.On("GetByID", mock.Anything, userID).
		Return(&entities.User{ID: userID, CreatedAt: now.AddDate(0, 0, -10)}, nil)
	f.activities.On("ListOpenByUser", mock.Anything, userID, mock.Anything).
		Return([]*entities.SuspiciousActivity{{ID: uuid.New(), UserID: userID, RiskScore: 50, Status: entities.ActivityStatusActive}}, nil)
	f.history.On("CountByPayer", mock.Anything, userID, mock.Anything).Return(0, nil)
	f.outcomes.On("PersistOutcome", mock.Anything, mock.MatchedBy(func(c *repositories.OutcomeCommit) bool {
		return c.Check.CheckType == entities.CheckTypeActivity && c.PaymentID == nil
	})).Return(nil)

	decision, err := f.eval.EvaluateUser(context.Background(), userID)

	require.NoError(t, err)
	// 50 * 0.3 activity weight + 15 young-account surcharge.
	assert.InDelta(t, 30.0, decision.RiskScore, 0.001)
	assert.True(t, decision.Approved)
	assert.Equal(t, entities.RiskLevelMedium, decision.RiskLevel)
	f.outcomes.AssertExpectations(t)
}
