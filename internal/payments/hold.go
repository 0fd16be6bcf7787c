package payments

import "time"

// HoldStatus mirrors the payment authority's own status machine for a hold.
type HoldStatus string

const (
	HoldRequiresPaymentMethod HoldStatus = "requires_payment_method"
	HoldRequiresConfirmation  HoldStatus = "requires_confirmation"
	HoldRequiresAction        HoldStatus = "requires_action"
	HoldProcessing            HoldStatus = "processing"
	HoldRequiresCapture       HoldStatus = "requires_capture"
	HoldSucceeded             HoldStatus = "succeeded"
	HoldCanceled              HoldStatus = "canceled"
)

// Terminal reports whether the authority will not move the hold any further.
func (s HoldStatus) Terminal() bool {
	return s == HoldSucceeded || s == HoldCanceled
}

// Cancelable reports whether the authority accepts a cancel in this status.
func (s HoldStatus) Cancelable() bool {
	switch s {
	case HoldRequiresPaymentMethod, HoldRequiresConfirmation, HoldRequiresAction, HoldRequiresCapture:
		return true
	}
	return false
}

// Kind tells a hold issued by the real processor apart from a simulated one.
// It is fixed by the adapter that produced the hold, never inferred from the id.
type Kind int

const (
	KindReal Kind = iota
	KindSimulated
)

func (k Kind) String() string {
	if k == KindSimulated {
		return "simulated"
	}
	return "real"
}

// CaptureMode controls when authorized funds are taken.
type CaptureMode string

const (
	CaptureManual    CaptureMode = "manual"
	CaptureAutomatic CaptureMode = "automatic"
)

// Hold is an authorized reservation of funds at the payment authority.
type Hold struct {
	ID              string
	Kind            Kind
	Status          HoldStatus
	AmountCents     int64
	CapturableCents int64
	ReceivedCents   int64
	Currency        string
	CaptureMode     CaptureMode
	Metadata        map[string]string
	ClientSecret    string
	CreatedAt       time.Time
}

// MetadataQuestionID is the metadata key tying a hold back to its question.
const MetadataQuestionID = "question_id"

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
