package models

import "time"

// Payment event kinds persisted by the ledger.
const (
	PaymentEventHoldCreated            = "hold_created"
	PaymentEventHoldCaptured           = "hold_captured"
	PaymentEventHoldCanceled           = "hold_canceled"
	PaymentEventReconciliationRequired = "reconciliation_required"
	PaymentEventManualRefundRequired   = "manual_refund_required"
)

// PaymentEvent is one durable record of a payment-side effect or of a failure to apply one.
type PaymentEvent struct {
	ID              int64     `json:"id"`
	QuestionID      int64     `json:"question_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Kind            string    `json:"kind"`
	Detail          string    `json:"detail,omitempty"`
	Resolved        bool      `json:"resolved"`
	CreatedAt       time.Time `json:"created_at"`
}
