package profile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/errors"
)

// Profiler computes a user's long-term risk score from open suspicious
// activity, daily transaction volume, and account age. Scoring is
// read-only: calling it twice with the same stored state yields the same
// score.
type Profiler struct {
	activities repositories.SuspiciousActivityRepository
	history    repositories.PaymentHistoryRepository
	users      repositories.UserRepository
	cfg        config.ProfileConfig
	logger     *zap.Logger
}

// NewProfiler creates a user risk profiler.
func NewProfiler(
	activities repositories.SuspiciousActivityRepository,
	history repositories.PaymentHistoryRepository,
	users repositories.UserRepository,
	cfg config.ProfileConfig,
	logger *zap.Logger,
) *Profiler {
	return &Profiler{
		activities: activities,
		history:    history,
		users:      users,
		cfg:        cfg,
		logger:     logger,
	}
}

// Score computes the profile score and the evidence behind it, clamped to
// [0, 100].
func (p *Profiler) Score(ctx context.Context, userID uuid.UUID, now time.Time) (*entities.UserRiskEvidence, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load user")
	}

	activityWindow := now.AddDate(0, 0, -p.cfg.ActivityWindowDays)
	open, err := p.activities.ListOpenByUser(ctx, userID, activityWindow)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load suspicious activity")
	}

	var activitySum float64
	for _, a := range open {
		activitySum += a.RiskScore
	}
	score := activitySum * p.cfg.ActivityWeight

	// Daily volume is measured against the calendar day in UTC, matching
	// how the transaction cap is communicated to users.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dailyCount, err := p.history.CountByPayer(ctx, userID, dayStart)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count daily transactions")
	}

	var usageSurcharge float64
	if float64(dailyCount) > float64(p.cfg.DailyTransactionCap)*p.cfg.DailyUsageRatio {
		usageSurcharge = p.cfg.DailyUsageSurcharge
		score += usageSurcharge
	}

	ageDays := user.AccountAgeDays(now)
	var ageSurcharge float64
	switch {
	case ageDays < p.cfg.YoungAccountDays:
		ageSurcharge = p.cfg.YoungAccountSurcharge
	case ageDays < p.cfg.NewAccountDays:
		ageSurcharge = p.cfg.NewAccountSurcharge
	}
	score += ageSurcharge

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return &entities.UserRiskEvidence{
		ProfileScore:        score,
		Weight:              p.cfg.ActivityWeight,
		ActivityScoreSum:    activitySum,
		DailyUsageSurcharge: usageSurcharge,
		AccountAgeSurcharge: ageSurcharge,
		AccountAgeDays:      ageDays,
	}, nil
}
