package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askexpert/backend/internal/models"
)

// Repository persists payment events in the payment_events table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes ev and fills in its id and creation time.
func (r *Repository) Insert(ctx context.Context, ev *models.PaymentEvent) error {
	var pi *string
	if ev.PaymentIntentID != "" {
		pi = &ev.PaymentIntentID
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO payment_events (question_id, payment_intent_id, kind, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, ev.QuestionID, pi, ev.Kind, ev.Detail).Scan(&ev.ID, &ev.CreatedAt)
}

// ListUnresolved returns reconciliation work oldest first.
func (r *Repository) ListUnresolved(ctx context.Context, limit int) ([]*models.PaymentEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, question_id, COALESCE(payment_intent_id, ''), kind, detail, resolved, created_at
		FROM payment_events
		WHERE resolved = FALSE AND kind IN ('reconciliation_required', 'manual_refund_required')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentEvent
	for rows.Next() {
		var ev models.PaymentEvent
		if err := rows.Scan(&ev.ID, &ev.QuestionID, &ev.PaymentIntentID, &ev.Kind, &ev.Detail, &ev.Resolved, &ev.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &ev)
	}
	return list, rows.Err()
}

// MarkResolved closes an open entry. It is a no-op on an already resolved one.
func (r *Repository) MarkResolved(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_events SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment event %d", ErrNotFound, id)
	}
	return nil
}
