package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/pkg/metrics"
	"github.com/lumipay/risk-engine/pkg/money"
)

// PaymentHistoryRepository reads completed payments as transaction edges.
// The payments table belongs to the payment subsystem; everything here is
// a read, except the risk status transition applied by the outcome store.
type PaymentHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentHistoryRepository creates a payment history repository.
func NewPaymentHistoryRepository(db *sql.DB, logger *zap.Logger) *PaymentHistoryRepository {
	return &PaymentHistoryRepository{db: db, logger: logger}
}

// EdgesByUser returns completed payments touching the user since the
// given time, as either payer or payee.
func (r *PaymentHistoryRepository) EdgesByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]entities.TransactionEdge, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("edges_by_user", "payments").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT payer_id, payee_id, amount, processed_at
		FROM payments
		WHERE (payer_id = $1 OR payee_id = $1)
		  AND status = 'completed'
		  AND processed_at >= $2
		ORDER BY processed_at`

	return r.queryEdges(ctx, query, userID, since)
}

// EdgesAmong returns completed payments where both parties are in the
// candidate set.
func (r *PaymentHistoryRepository) EdgesAmong(ctx context.Context, userIDs []uuid.UUID, since time.Time) ([]entities.TransactionEdge, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseQueryDuration.WithLabelValues("edges_among", "payments").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT payer_id, payee_id, amount, processed_at
		FROM payments
		WHERE payer_id = ANY($1)
		  AND payee_id = ANY($1)
		  AND status = 'completed'
		  AND processed_at >= $2
		ORDER BY processed_at`

	return r.queryEdges(ctx, query, pq.Array(userIDs), since)
}

// CountByPayer counts the user's completed outgoing payments since the
// given time.
func (r *PaymentHistoryRepository) CountByPayer(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM payments
		WHERE payer_id = $1 AND status = 'completed' AND processed_at >= $2`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&count)
	return count, err
}

func (r *PaymentHistoryRepository) queryEdges(ctx context.Context, query string, args ...interface{}) ([]entities.TransactionEdge, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []entities.TransactionEdge
	for rows.Next() {
		var e entities.TransactionEdge
		var amount int64
		if err := rows.Scan(&e.PayerID, &e.PayeeID, &amount, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount = money.Amount(amount)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
