// Package notify delivers best-effort notifications about question lifecycle events.
// Nothing here may fail or roll back a financial transition.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the offer state machine.
const (
	EventQuestionCreated  = "question.created"
	EventPaymentConfirmed = "question.payment_confirmed"
	EventOfferAccepted    = "offer.accepted"
	EventOfferDeclined    = "offer.declined"
	EventOfferExpired     = "offer.expired"
	EventQuestionStarted  = "question.started"
	EventQuestionAnswered = "question.answered"
	EventSLAExpired       = "question.sla_expired"
	EventRefunded         = "question.refunded"
)

// Payload is the body delivered for every event.
type Payload struct {
	QuestionID      int64     `json:"question_id"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	AskerID         string    `json:"asker_id,omitempty"`
	ExpertID        string    `json:"expert_id,omitempty"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier is fire-and-forget. Implementations log their own failures.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload Payload)
}

// LogNotifier only logs. It is used when no webhook is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, eventType string, p Payload) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "event", eventType, "question_id", p.QuestionID, "status", p.Status)
}

// InsertDeliverFunc enqueues a delivery job. Provided by main using river.Client.Insert.
type InsertDeliverFunc func(ctx context.Context, args DeliverArgs) error

// QueueNotifier hands each event to the job queue for delivery with retries.
type QueueNotifier struct {
	mu     sync.Mutex
	insert InsertDeliverFunc
	log    *slog.Logger
}

func NewQueueNotifier(log *slog.Logger) *QueueNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &QueueNotifier{log: log}
}

// SetInsert wires the queue once the job client exists.
func (n *QueueNotifier) SetInsert(fn InsertDeliverFunc) {
	n.mu.Lock()
	n.insert = fn
	n.mu.Unlock()
}

func (n *QueueNotifier) Notify(ctx context.Context, eventType string, p Payload) {
	n.mu.Lock()
	fn := n.insert
	n.mu.Unlock()
	if fn == nil {
		n.log.Warn("notification queue not wired; dropping event", "event", eventType, "question_id", p.QuestionID)
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		n.log.Error("encode notification", "event", eventType, "question_id", p.QuestionID, "error", err)
		return
	}
	args := DeliverArgs{Event: eventType, QuestionID: p.QuestionID, Payload: body}
	if err := fn(context.WithoutCancel(ctx), args); err != nil {
		n.log.Error("enqueue notification", "event", eventType, "question_id", p.QuestionID, "error", err)
	}
}
