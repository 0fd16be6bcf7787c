package models

import "github.com/google/uuid"

// Expert is the pricing and SLA configuration of an expert profile at read time.
type Expert struct {
	UserID           uuid.UUID `json:"user_id"`
	Handle           string    `json:"handle"`
	QuickPriceCents  int64     `json:"quick_price_cents"`
	DeepDiveMinCents int64     `json:"deep_dive_min_cents"`
	DeepDiveMaxCents int64     `json:"deep_dive_max_cents"`
	AcceptsDeepDive  bool      `json:"accepts_deep_dive"`
	SLAHours         int       `json:"sla_hours"`
	Currency         string    `json:"currency"`
}
