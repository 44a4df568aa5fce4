package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/pkg/errors"
)

// UserRepository reads the user attributes the profiler needs.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// GetByID returns the user or a not-found error.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	query := `SELECT id, created_at, flagged FROM users WHERE id = $1`

	var user entities.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.CreatedAt, &user.Flagged)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.ErrCodeUserNotFound, "user")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetFlagged updates the user's fraud flag.
func (r *UserRepository) SetFlagged(ctx context.Context, id uuid.UUID, flagged bool) error {
	query := `UPDATE users SET flagged = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, flagged, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound(errors.ErrCodeUserNotFound, "user")
	}
	r.logger.Info("user flag updated",
		zap.String("user_id", id.String()),
		zap.Bool("flagged", flagged),
	)
	return nil
}
