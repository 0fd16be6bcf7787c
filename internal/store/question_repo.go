package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askexpert/backend/internal/models"
)

const questionColumns = `id, tier, status, COALESCE(status_reason, ''), asker_id, expert_id, title, price_cents, proposed_price_cents,
	currency, sla_hours_snapshot, offer_expires_at, accepted_at, answered_at, payment_intent_id, created_at, updated_at`

// QuestionRepo reads and writes question records.
type QuestionRepo struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewQuestionRepo(pool *pgxpool.Pool, timeout time.Duration) *QuestionRepo {
	return &QuestionRepo{pool: pool, timeout: timeout}
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	var pi *string
	err := row.Scan(&q.ID, &q.Tier, &q.Status, &q.StatusReason, &q.AskerID, &q.ExpertID, &q.Title, &q.PriceCents, &q.ProposedPriceCents,
		&q.Currency, &q.SLAHoursSnapshot, &q.OfferExpiresAt, &q.AcceptedAt, &q.AnsweredAt, &pi, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pi != nil {
		q.PaymentIntentID = *pi
	}
	return &q, nil
}

func (r *QuestionRepo) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	q, err := scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question %d: %w", id, err)
	}
	return q, nil
}

// CreateQuestion inserts q and fills in its id and timestamps. CreatedAt is taken
// from q when set so that deadlines derived from it stay exact.
func (r *QuestionRepo) CreateQuestion(ctx context.Context, q *models.Question) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	var pi *string
	if q.PaymentIntentID != "" {
		pi = &q.PaymentIntentID
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO questions (tier, status, asker_id, expert_id, title, price_cents, proposed_price_cents, currency,
			sla_hours_snapshot, offer_expires_at, payment_intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id, updated_at
	`, q.Tier, q.Status, q.AskerID, q.ExpertID, q.Title, q.PriceCents, q.ProposedPriceCents, q.Currency,
		q.SLAHoursSnapshot, q.OfferExpiresAt, pi, q.CreatedAt).Scan(&q.ID, &q.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// ConditionalUpdateQuestion applies patch only while the row is still in expected.
// It reports false, with no error, when another writer got there first.
func (r *QuestionRepo) ConditionalUpdateQuestion(ctx context.Context, id int64, expected models.Status, patch models.QuestionPatch) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	sql, args := buildConditionalUpdate(id, expected, patch)
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update question %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func buildConditionalUpdate(id int64, expected models.Status, patch models.QuestionPatch) (string, []any) {
	args := []any{id, expected}
	set := []string{"updated_at = now()"}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != "" {
		add("status", patch.Status)
	}
	if patch.StatusReason != nil {
		add("status_reason", *patch.StatusReason)
	}
	if patch.AcceptedAt != nil {
		add("accepted_at", *patch.AcceptedAt)
	}
	if patch.AnsweredAt != nil {
		add("answered_at", *patch.AnsweredAt)
	}
	if patch.PaymentIntentID != nil {
		add("payment_intent_id", *patch.PaymentIntentID)
	}
	where := "id = $1 AND status = $2"
	if patch.OfferOpenAt != nil {
		args = append(args, *patch.OfferOpenAt)
		where += fmt.Sprintf(" AND (offer_expires_at IS NULL OR offer_expires_at > $%d)", len(args))
	}
	return "UPDATE questions SET " + strings.Join(set, ", ") + " WHERE " + where, args
}

// SetPaymentIntentID backfills the hold id on a record that has none.
func (r *QuestionRepo) SetPaymentIntentID(ctx context.Context, id int64, paymentIntentID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE questions SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1 AND payment_intent_id IS NULL
	`, id, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("set payment intent on question %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpiredOffers returns pending offers whose acceptance window closed at or before now.
func (r *QuestionRepo) ListExpiredOffers(ctx context.Context, now time.Time) ([]*models.Question, error) {
	return r.list(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE status = 'pending_offer' AND offer_expires_at IS NOT NULL AND offer_expires_at <= $1
		ORDER BY offer_expires_at
	`, now)
}

// ListSLAExpired returns unanswered questions whose response window closed at or before now.
// The window starts at acceptance when there was one, else at creation.
func (r *QuestionRepo) ListSLAExpired(ctx context.Context, now time.Time) ([]*models.Question, error) {
	return r.list(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE status IN ('paid', 'accepted', 'in_progress') AND answered_at IS NULL
		  AND COALESCE(accepted_at, created_at) + make_interval(hours => sla_hours_snapshot) <= $1
		ORDER BY created_at
	`, now)
}

// ListByParticipant returns the most recent questions a user asked or was asked.
func (r *QuestionRepo) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Question, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE asker_id = $1 OR expert_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
}

func (r *QuestionRepo) list(ctx context.Context, sql string, args ...any) ([]*models.Question, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var list []*models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}
