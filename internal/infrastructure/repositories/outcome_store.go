package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	domain "github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/database"
	"github.com/lumipay/risk-engine/pkg/errors"
)

// OutcomeStore applies evaluation and review outcomes atomically. The risk
// check insert, the payment risk transition, the user flag, and the
// velocity counters either all land or none do; a half-written verdict is
// worse than no verdict.
type OutcomeStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutcomeStore creates an outcome store.
func NewOutcomeStore(db *sql.DB, logger *zap.Logger) *OutcomeStore {
	return &OutcomeStore{db: db, logger: logger}
}

// PersistOutcome writes an evaluation outcome in one transaction.
func (s *OutcomeStore) PersistOutcome(ctx context.Context, commit *domain.OutcomeCommit) error {
	now := time.Now().UTC()
	return database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := CreateRiskCheckTx(ctx, tx, commit.Check); err != nil {
			return err
		}

		if commit.PaymentID != nil {
			if err := setPaymentRiskStatusTx(ctx, tx, *commit.PaymentID, commit.PaymentStatus, now); err != nil {
				return err
			}
		}

		if commit.FlagUser {
			if err := setUserFlaggedTx(ctx, tx, commit.Check.UserID, true, now); err != nil {
				return err
			}
		}

		if commit.CommitVelocity {
			if err := CommitUsageTx(ctx, tx, commit.Check.UserID, commit.VelocityAmount, now, commit.EnforceVelocity); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyReview writes a manual review outcome in one transaction.
func (s *OutcomeStore) ApplyReview(ctx context.Context, commit *domain.ReviewCommit) error {
	now := time.Now().UTC()
	return database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE risk_checks
			SET status = $2, reviewed_by = $3, reviewed_at = $4, review_notes = $5
			WHERE id = $1 AND status IN ('pending', 'under_review')`,
			commit.CheckID, commit.Status, commit.ReviewerID, now, commit.Notes,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.AlreadyReviewed(commit.CheckID.String())
		}

		if commit.PaymentID != nil {
			if err := setPaymentRiskStatusTx(ctx, tx, *commit.PaymentID, commit.PaymentStatus, now); err != nil {
				return err
			}
		}

		if commit.UnflagUser {
			if err := setUserFlaggedTx(ctx, tx, commit.UserID, false, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func setPaymentRiskStatusTx(ctx context.Context, tx *sql.Tx, paymentID uuid.UUID, status entities.PaymentRiskStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET risk_status = $2, updated_at = $3
		WHERE id = $1`,
		paymentID, status, now,
	)
	return err
}

func setUserFlaggedTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, flagged bool, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET flagged = $2, updated_at = $3
		WHERE id = $1`,
		userID, flagged, now,
	)
	return err
}
