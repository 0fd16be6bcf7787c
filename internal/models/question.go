package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the pricing tier of a question. Immutable after creation.
type Tier string

const (
	TierQuickConsult Tier = "quick_consult"
	TierDeepDive     Tier = "deep_dive"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierQuickConsult || t == TierDeepDive
}

// Status is the lifecycle status of a question record.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPendingOffer   Status = "pending_offer"
	StatusPaid           Status = "paid"
	StatusAccepted       Status = "accepted"
	StatusInProgress     Status = "in_progress"
	StatusAnswered       Status = "answered"
	StatusClosed         Status = "closed"
	StatusOfferDeclined  Status = "offer_declined"
	StatusOfferExpired   Status = "offer_expired"
	StatusSLAExpired     Status = "sla_expired"
	StatusRefunded       Status = "refunded"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusAnswered, StatusClosed, StatusOfferDeclined, StatusOfferExpired, StatusSLAExpired, StatusRefunded:
		return true
	}
	return false
}

// Question is the central record: one paid question from an asker to an expert.
type Question struct {
	ID                 int64      `json:"id"`
	Tier               Tier       `json:"tier"`
	Status             Status     `json:"status"`
	StatusReason       string     `json:"status_reason,omitempty"`
	AskerID            uuid.UUID  `json:"asker_id"`
	ExpertID           uuid.UUID  `json:"expert_id"`
	Title              string     `json:"title,omitempty"`
	PriceCents         *int64     `json:"price_cents,omitempty"`
	ProposedPriceCents *int64     `json:"proposed_price_cents,omitempty"`
	Currency           string     `json:"currency"`
	SLAHoursSnapshot   int        `json:"sla_hours_snapshot"`
	OfferExpiresAt     *time.Time `json:"offer_expires_at,omitempty"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	AnsweredAt         *time.Time `json:"answered_at,omitempty"`
	PaymentIntentID    string     `json:"payment_intent_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AmountCents is the amount held for the question, whichever tier it is.
func (q *Question) AmountCents() int64 {
	switch {
	case q.PriceCents != nil:
		return *q.PriceCents
	case q.ProposedPriceCents != nil:
		return *q.ProposedPriceCents
	}
	return 0
}

// SLAStart is the moment the response-time clock started: acceptance for
// negotiated offers, creation otherwise.
func (q *Question) SLAStart() time.Time {
	if q.AcceptedAt != nil {
		return *q.AcceptedAt
	}
	return q.CreatedAt
}

// SLADeadline is SLAStart plus the frozen SLA window.
func (q *Question) SLADeadline() time.Time {
	return q.SLAStart().Add(time.Duration(q.SLAHoursSnapshot) * time.Hour)
}

// OfferOpen reports whether a pending offer can still be acted on at now.
func (q *Question) OfferOpen(now time.Time) bool {
	return q.OfferExpiresAt == nil || now.Before(*q.OfferExpiresAt)
}

// QuestionPatch lists the columns a conditional update may set. Nil fields are left untouched.
type QuestionPatch struct {
	Status          Status
	StatusReason    *string
	AcceptedAt      *time.Time
	AnsweredAt      *time.Time
	PaymentIntentID *string
	// OfferOpenAt, when set, additionally requires offer_expires_at to be null or later than it.
	OfferOpenAt *time.Time
}
