package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/pkg/errors"
	"github.com/lumipay/risk-engine/pkg/metrics"
)

// RiskCheckRepository stores risk checks in Postgres. Triggered rules are
// kept as a JSONB document alongside the scalar columns used for querying.
type RiskCheckRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRiskCheckRepository creates a risk check repository.
func NewRiskCheckRepository(db *sql.DB, logger *zap.Logger) *RiskCheckRepository {
	return &RiskCheckRepository{db: db, logger: logger}
}

// Create inserts a new risk check.
func (r *RiskCheckRepository) Create(ctx context.Context, check *entities.RiskCheck) error {
	return CreateRiskCheckTx(ctx, r.db, check)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateRiskCheckTx inserts a risk check using the given executor, so the
// outcome store can reuse the same insert inside its transaction.
func CreateRiskCheckTx(ctx context.Context, ex execer, check *entities.RiskCheck) error {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("create", "risk_checks").Observe(time.Since(start).Seconds())
	}()

	rulesJSON, err := json.Marshal(check.TriggeredRules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_checks (
			id, user_id, payment_id, check_type, risk_score, risk_level, triggered_rules,
			status, payment_blocked, user_flagged, admin_notified, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = ex.ExecContext(ctx, query,
		check.ID, check.UserID, check.PaymentID, check.CheckType, check.RiskScore, check.RiskLevel,
		rulesJSON, check.Status, check.PaymentBlocked, check.UserFlagged, check.AdminNotified,
		check.IPAddress, check.UserAgent, check.CreatedAt,
	)
	return err
}

// GetByID returns one check or a not-found error.
func (r *RiskCheckRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RiskCheck, error) {
	query := selectRiskCheck + ` WHERE id = $1`
	check, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodeCheckNotFound, "risk check")
	}
	return check, err
}

// ListByUser returns a user's checks, newest first.
func (r *RiskCheckRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.RiskCheck, error) {
	query := selectRiskCheck + `
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

// ListPending returns checks awaiting review, newest first.
func (r *RiskCheckRepository) ListPending(ctx context.Context, limit, offset int) ([]*entities.RiskCheck, error) {
	query := selectRiskCheck + `
		WHERE status IN ('pending', 'under_review')
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	return r.list(ctx, query, limit, offset)
}

const selectRiskCheck = `
	SELECT id, user_id, payment_id, check_type, risk_score, risk_level, triggered_rules,
	       status, payment_blocked, user_flagged, admin_notified, ip_address, user_agent,
	       created_at, reviewed_by, reviewed_at, review_notes
	FROM risk_checks`

func (r *RiskCheckRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entities.RiskCheck, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("list", "risk_checks").Observe(time.Since(start).Seconds())
	}()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*entities.RiskCheck
	for rows.Next() {
		check, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

func (r *RiskCheckRepository) scanOne(row rowScanner) (*entities.RiskCheck, error) {
	var check entities.RiskCheck
	var rulesJSON []byte
	err := row.Scan(
		&check.ID, &check.UserID, &check.PaymentID, &check.CheckType, &check.RiskScore,
		&check.RiskLevel, &rulesJSON, &check.Status, &check.PaymentBlocked, &check.UserFlagged,
		&check.AdminNotified, &check.IPAddress, &check.UserAgent, &check.CreatedAt,
		&check.ReviewedBy, &check.ReviewedAt, &check.ReviewNotes,
	)
	if err != nil {
		return nil, err
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &check.TriggeredRules); err != nil {
			r.logger.Warn("malformed triggered_rules document",
				zap.String("check_id", check.ID.String()),
				zap.Error(err),
			)
		}
	}
	return &check, nil
}
