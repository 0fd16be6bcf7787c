package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/askexpert/backend/internal/middleware"
	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/offers"
	"github.com/askexpert/backend/internal/payments"
	"github.com/askexpert/backend/internal/validation"
)

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

var _ BodyValidator = (*validation.Validator)(nil)

// QuestionHandler serves the asker and expert endpoints.
type QuestionHandler struct {
	Offers    offers.Service
	Validator BodyValidator
	Logger    *slog.Logger
}

const defaultListLimit = 50

// --- POST /payments/intent ---

type intentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	CaptureMode string            `json:"captureMode"`
	Tier        string            `json:"tier"`
	ExpertID    string            `json:"expert_id"`
	Metadata    map[string]string `json:"metadata"`
}

type intentResponse struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	ClientSecret    string              `json:"client_secret"`
	Status          payments.HoldStatus `json:"status"`
	AmountCents     int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Simulated       bool                `json:"simulated,omitempty"`
}

// CreateIntent handles POST /payments/intent.
func (h *QuestionHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	var req intentRequest
	if !h.decode(w, r, validation.SchemaPaymentIntent, &req) {
		return
	}
	var expertID uuid.UUID
	if req.ExpertID != "" {
		var err error
		if expertID, err = uuid.Parse(req.ExpertID); err != nil {
			http.Error(w, `{"error":"invalid expert_id","kind":"validation"}`, http.StatusBadRequest)
			return
		}
	}

	hold, err := h.Offers.CreateIntent(r.Context(), actor, offers.IntentRequest{
		AmountCents:    req.Amount,
		Currency:       req.Currency,
		CaptureMode:    payments.CaptureMode(req.CaptureMode),
		Tier:           models.Tier(req.Tier),
		ExpertID:       expertID,
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, h.Logger, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		PaymentIntentID: hold.ID,
		ClientSecret:    hold.ClientSecret,
		Status:          hold.Status,
		AmountCents:     hold.AmountCents,
		Currency:        hold.Currency,
		Simulated:       hold.Kind == payments.KindSimulated,
	})
}

// --- POST /questions ---

type submitRequest struct {
	Tier               string `json:"tier"`
	ExpertID           string `json:"expert_id"`
	Title              string `json:"title"`
	PriceCents         *int64 `json:"price_cents"`
	ProposedPriceCents *int64 `json:"proposed_price_cents"`
	PaymentIntentID    string `json:"payment_intent_id"`
}

// Submit handles POST /questions.
func (h *QuestionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	var req submitRequest
	if !h.decode(w, r, validation.SchemaQuestion, &req) {
		return
	}

	expertID, err := uuid.Parse(req.ExpertID)
	if err != nil {
		http.Error(w, `{"error":"invalid expert_id","kind":"validation"}`, http.StatusBadRequest)
		return
	}

	q, err := h.Offers.Submit(r.Context(), actor, offers.SubmitRequest{
		Tier:               models.Tier(req.Tier),
		ExpertID:           expertID,
		Title:              req.Title,
		PriceCents:         req.PriceCents,
		ProposedPriceCents: req.ProposedPriceCents,
		PaymentIntentID:    req.PaymentIntentID,
	})
	if err != nil {
		writeError(w, h.Logger, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// --- GET /questions ---

// List handles GET /questions: every question the caller asked or was asked.
func (h *QuestionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	qs, err := h.Offers.List(r.Context(), actor, queryLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, h.Logger, err, "")
		return
	}
	if qs == nil {
		qs = []*models.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

// --- GET /questions/{id} ---

func (h *QuestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid question id","kind":"validation"}`, http.StatusBadRequest)
		return
	}
	q, err := h.Offers.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.Logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- transitions ---

type reasonRequest struct {
	Reason string `json:"reason"`
}

type transitionFunc func(ctx context.Context, actor models.Actor, id int64, reason string) (offers.Outcome, error)

// ConfirmPayment handles POST /questions/{id}/confirm-payment.
func (h *QuestionHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(ctx context.Context, a models.Actor, id int64, _ string) (offers.Outcome, error) {
		return h.Offers.ConfirmPayment(ctx, a, id)
	})
}

// Accept handles POST /offers/{id}/accept.
func (h *QuestionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(ctx context.Context, a models.Actor, id int64, _ string) (offers.Outcome, error) {
		return h.Offers.Accept(ctx, a, id)
	})
}

// Decline handles POST /offers/{id}/decline with an optional {"reason": "..."}.
func (h *QuestionHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, h.Offers.Decline)
}

// Start handles POST /questions/{id}/start.
func (h *QuestionHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(ctx context.Context, a models.Actor, id int64, _ string) (offers.Outcome, error) {
		return h.Offers.Start(ctx, a, id)
	})
}

// Answer handles POST /questions/{id}/answer. Capture failures come back as 503
// with the question still in its previous status, so the call can be retried.
func (h *QuestionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(ctx context.Context, a models.Actor, id int64, _ string) (offers.Outcome, error) {
		return h.Offers.Answer(ctx, a, id)
	})
}

// Refund handles POST /questions/{id}/refund with an optional {"reason": "..."}.
func (h *QuestionHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, h.Offers.Refund)
}

func (h *QuestionHandler) transition(w http.ResponseWriter, r *http.Request, withReason bool, fn transitionFunc) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid question id","kind":"validation"}`, http.StatusBadRequest)
		return
	}
	var req reasonRequest
	if withReason && !h.decode(w, r, validation.SchemaReason, &req) {
		return
	}

	started := time.Now()
	out, err := fn(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, h.Logger, err, string(out.Status))
		return
	}
	h.Logger.Info("transition handled",
		"question_id", id,
		"status", out.Status,
		"applied", out.Applied,
		"warnings", len(out.Warnings),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, out)
}

// decode validates the body against schema and unmarshals it into dst. It writes
// the error response itself and reports whether the caller should continue.
func (h *QuestionHandler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := readBody(w, r)
	if err == nil {
		err = h.Validator.Validate(schema, body)
	}
	if err != nil {
		writeError(w, h.Logger, err, "")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, `{"error":"invalid JSON","kind":"validation"}`, http.StatusBadRequest)
		return false
	}
	return true
}
