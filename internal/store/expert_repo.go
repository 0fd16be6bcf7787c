package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askexpert/backend/internal/models"
)

type ExpertRepo struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewExpertRepo(pool *pgxpool.Pool, timeout time.Duration) *ExpertRepo {
	return &ExpertRepo{pool: pool, timeout: timeout}
}

func (r *ExpertRepo) GetExpert(ctx context.Context, userID uuid.UUID) (*models.Expert, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var e models.Expert
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, handle, quick_price_cents, deep_dive_min_cents, deep_dive_max_cents, accepts_deep_dive, sla_hours, currency
		FROM experts WHERE user_id = $1
	`, userID).Scan(&e.UserID, &e.Handle, &e.QuickPriceCents, &e.DeepDiveMinCents, &e.DeepDiveMaxCents, &e.AcceptsDeepDive, &e.SLAHours, &e.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expert %s: %w", userID, err)
	}
	return &e, nil
}

// UpsertExpert writes a profile. In-flight questions keep the SLA they were created with.
func (r *ExpertRepo) UpsertExpert(ctx context.Context, e *models.Expert) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO experts (user_id, handle, quick_price_cents, deep_dive_min_cents, deep_dive_max_cents, accepts_deep_dive, sla_hours, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			handle = EXCLUDED.handle,
			quick_price_cents = EXCLUDED.quick_price_cents,
			deep_dive_min_cents = EXCLUDED.deep_dive_min_cents,
			deep_dive_max_cents = EXCLUDED.deep_dive_max_cents,
			accepts_deep_dive = EXCLUDED.accepts_deep_dive,
			sla_hours = EXCLUDED.sla_hours,
			currency = EXCLUDED.currency,
			updated_at = now()
	`, e.UserID, e.Handle, e.QuickPriceCents, e.DeepDiveMinCents, e.DeepDiveMaxCents, e.AcceptsDeepDive, e.SLAHours, e.Currency)
	if err != nil {
		return fmt.Errorf("upsert expert %s: %w", e.UserID, err)
	}
	return nil
}
