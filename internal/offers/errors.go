package offers

import "errors"

var (
	// ErrNotFound is returned for an unknown question or expert.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor is not a party allowed to drive the event.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned when the event never applies to the question's status or tier.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation is returned for bad input. Nothing has been mutated.
	ErrValidation = errors.New("validation failed")
	// ErrManualRefundRequired is returned when a refund hits a hold that was already captured.
	ErrManualRefundRequired = errors.New("already captured, manual refund required")
	// ErrHoldNotFound is returned when no payment hold can be tied to the question.
	ErrHoldNotFound = errors.New("payment hold not found")
)

// Warnings attached to an Outcome when the status moved but the hold could not be settled.
const (
	WarnManualRefund      = "manual refund required"
	WarnHoldNotFound      = "payment hold not found"
	WarnHoldUnresolved    = "payment hold could not be released"
	WarnOfferWindowClosed = "offer window closed"
)
