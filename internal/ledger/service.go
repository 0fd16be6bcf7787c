// Package ledger is the durable log of payment-side effects and of the ones that
// could not be applied and need a human.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/askexpert/backend/internal/models"
)

// ErrNotFound is returned when resolving an entry that does not exist.
var ErrNotFound = errors.New("ledger: event not found")

const defaultListLimit = 100

// Store is the persistence the ledger needs.
type Store interface {
	Insert(ctx context.Context, ev *models.PaymentEvent) error
	ListUnresolved(ctx context.Context, limit int) ([]*models.PaymentEvent, error)
	MarkResolved(ctx context.Context, id int64) error
}

// Service records payment events. Record never fails the caller: a transition
// has already happened by the time it is logged.
type Service interface {
	Record(ctx context.Context, questionID int64, paymentIntentID, kind, detail string)
	ListOpen(ctx context.Context, limit int) ([]*models.PaymentEvent, error)
	Resolve(ctx context.Context, id int64) error
}

type service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Record(ctx context.Context, questionID int64, paymentIntentID, kind, detail string) {
	ev := &models.PaymentEvent{QuestionID: questionID, PaymentIntentID: paymentIntentID, Kind: kind, Detail: detail}
	attrs := []any{"question_id", questionID, "payment_intent_id", paymentIntentID, "event", kind, "detail", detail}
	if needsHuman(kind) {
		s.log.Error("payment reconciliation required", attrs...)
	} else {
		s.log.Info("payment event", attrs...)
	}
	// detached so a cancelled request still leaves a trace
	if err := s.store.Insert(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("payment event not persisted", append(attrs, "error", err)...)
	}
}

func (s *service) ListOpen(ctx context.Context, limit int) ([]*models.PaymentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	return s.store.ListUnresolved(ctx, limit)
}

func (s *service) Resolve(ctx context.Context, id int64) error {
	return s.store.MarkResolved(ctx, id)
}

func needsHuman(kind string) bool {
	return kind == models.PaymentEventReconciliationRequired || kind == models.PaymentEventManualRefundRequired
}
