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

// SuspiciousActivityRepository stores detector signals in Postgres with
// one row per (user, activity type) while the record stays open.
type SuspiciousActivityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSuspiciousActivityRepository creates a suspicious activity repository.
func NewSuspiciousActivityRepository(db *sql.DB, logger *zap.Logger) *SuspiciousActivityRepository {
	return &SuspiciousActivityRepository{db: db, logger: logger}
}

// Record inserts the activity, or bumps frequency and recency when an open
// record for the same (user, type) already exists. The risk score keeps
// the highest value seen.
func (r *SuspiciousActivityRepository) Record(ctx context.Context, activity *entities.SuspiciousActivity) error {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("record", "suspicious_activities").Observe(time.Since(start).Seconds())
	}()

	var structuringJSON []byte
	if activity.Structuring != nil {
		var err error
		structuringJSON, err = json.Marshal(activity.Structuring)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO suspicious_activities (
			id, user_id, activity_type, description, risk_score, structuring,
			first_detected_at, last_detected_at, frequency, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, activity_type) WHERE status != 'resolved' DO UPDATE SET
			description = EXCLUDED.description,
			risk_score = GREATEST(suspicious_activities.risk_score, EXCLUDED.risk_score),
			structuring = COALESCE(EXCLUDED.structuring, suspicious_activities.structuring),
			last_detected_at = EXCLUDED.last_detected_at,
			frequency = suspicious_activities.frequency + 1`

	_, err := r.db.ExecContext(ctx, query,
		activity.ID, activity.UserID, activity.ActivityType, activity.Description,
		activity.RiskScore, structuringJSON, activity.FirstDetectedAt, activity.LastDetectedAt,
		activity.Frequency, activity.Status,
	)
	if err != nil {
		r.logger.Error("failed to record suspicious activity",
			zap.String("user_id", activity.UserID.String()),
			zap.String("activity_type", string(activity.ActivityType)),
			zap.Error(err),
		)
	}
	return err
}

// ListOpenByUser returns unresolved records detected since the given time.
func (r *SuspiciousActivityRepository) ListOpenByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.SuspiciousActivity, error) {
	query := selectActivity + `
		WHERE user_id = $1 AND status != 'resolved' AND last_detected_at >= $2
		ORDER BY last_detected_at DESC`
	return r.list(ctx, query, userID, since)
}

// ListByStatus returns records in a given lifecycle state, newest first.
func (r *SuspiciousActivityRepository) ListByStatus(ctx context.Context, status entities.ActivityStatus, limit, offset int) ([]*entities.SuspiciousActivity, error) {
	query := selectActivity + `
		WHERE status = $1
		ORDER BY last_detected_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, status, limit, offset)
}

// GetByID returns one record or a not-found error.
func (r *SuspiciousActivityRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.SuspiciousActivity, error) {
	query := selectActivity + ` WHERE id = $1`
	activity, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodeActivityNotFound, "suspicious activity")
	}
	return activity, err
}

// Resolve closes the record with the resolver's notes.
func (r *SuspiciousActivityRepository) Resolve(ctx context.Context, id, resolverID uuid.UUID, notes string) error {
	query := `
		UPDATE suspicious_activities
		SET status = 'resolved', resolved_by = $2, resolved_at = $3, resolution_notes = $4
		WHERE id = $1 AND status != 'resolved'`
	result, err := r.db.ExecContext(ctx, query, id, resolverID, time.Now().UTC(), notes)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound(errors.ErrCodeActivityNotFound, "open suspicious activity")
	}
	return nil
}

// EscalateStale moves active records older than the cutoff to
// under_investigation so they surface in the admin queue.
func (r *SuspiciousActivityRepository) EscalateStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE suspicious_activities
		SET status = 'under_investigation'
		WHERE status = 'active' AND last_detected_at < $1`
	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const selectActivity = `
	SELECT id, user_id, activity_type, description, risk_score, structuring,
	       first_detected_at, last_detected_at, frequency, status,
	       resolved_by, resolved_at, resolution_notes
	FROM suspicious_activities`

func (r *SuspiciousActivityRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entities.SuspiciousActivity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*entities.SuspiciousActivity
	for rows.Next() {
		activity, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func (r *SuspiciousActivityRepository) scanOne(row rowScanner) (*entities.SuspiciousActivity, error) {
	var activity entities.SuspiciousActivity
	var structuringJSON []byte
	err := row.Scan(
		&activity.ID, &activity.UserID, &activity.ActivityType, &activity.Description,
		&activity.RiskScore, &structuringJSON, &activity.FirstDetectedAt, &activity.LastDetectedAt,
		&activity.Frequency, &activity.Status, &activity.ResolvedBy, &activity.ResolvedAt,
		&activity.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}
	if len(structuringJSON) > 0 {
		if err := json.Unmarshal(structuringJSON, &activity.Structuring); err != nil {
			r.logger.Warn("malformed structuring document",
				zap.String("activity_id", activity.ID.String()),
				zap.Error(err),
			)
		}
	}
	return &activity, nil
}
