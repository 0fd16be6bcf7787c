package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"
)

// fakeIntents records the params it was called with and returns canned answers.
type fakeIntents struct {
	intent *stripe.PaymentIntent
	err    error
	getPI  *stripe.PaymentIntent

	lastCapture *stripe.PaymentIntentCaptureParams
	lastCancel  *stripe.PaymentIntentCancelParams
	lastNew     *stripe.PaymentIntentParams
}

func (f *fakeIntents) New(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastNew = p
	return f.intent, f.err
}

func (f *fakeIntents) Get(_ string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getPI != nil {
		return f.getPI, nil
	}
	return f.intent, f.err
}

func (f *fakeIntents) Update(_ string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func (f *fakeIntents) Capture(_ string, p *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.lastCapture = p
	return f.intent, f.err
}

func (f *fakeIntents) Cancel(_ string, p *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.lastCancel = p
	return f.intent, f.err
}

func newTestStripe(f *fakeIntents, list intentLister) *Stripe {
	if list == nil {
		list = func(context.Context, time.Time, int) ([]*stripe.PaymentIntent, error) { return nil, nil }
	}
	return newStripe(f, list, time.Second, 0, nil)
}

func TestStripe_CapturePassesIdempotencyKey(t *testing.T) {
	f := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:             "pi_123",
		Status:         stripe.PaymentIntentStatusSucceeded,
		Amount:         5000,
		AmountReceived: 5000,
		Currency:       "usd",
		CaptureMethod:  stripe.PaymentIntentCaptureMethodManual,
	}}
	s := newTestStripe(f, nil)

	h, err := s.CaptureHold(context.Background(), "pi_123", nil, "question-1-capture")
	if err != nil {
		t.Fatalf("CaptureHold: %v", err)
	}
	if h.Kind != KindReal || h.Status != HoldSucceeded || h.ReceivedCents != 5000 {
		t.Errorf("unexpected hold: %+v", h)
	}
	if f.lastCapture.IdempotencyKey == nil || *f.lastCapture.IdempotencyKey != "question-1-capture" {
		t.Errorf("idempotency key not passed through: %v", f.lastCapture.IdempotencyKey)
	}
	if f.lastCapture.AmountToCapture != nil {
		t.Errorf("full capture should not set amount_to_capture")
	}
}

func TestStripe_CreateHoldIsManual(t *testing.T) {
	f := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_new", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}
	s := newTestStripe(f, nil)

	_, err := s.CreateHold(context.Background(), CreateHoldParams{
		AmountCents:    2500,
		Currency:       "USD",
		CaptureMode:    CaptureManual,
		Metadata:       map[string]string{"tier": "deep_dive"},
		IdempotencyKey: "intent-abc",
	})
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	p := f.lastNew
	if p.CaptureMethod == nil || *p.CaptureMethod != "manual" {
		t.Errorf("capture method: got %v", p.CaptureMethod)
	}
	if p.Currency == nil || *p.Currency != "usd" {
		t.Errorf("currency: got %v", p.Currency)
	}
	if p.Metadata["tier"] != "deep_dive" {
		t.Errorf("metadata not forwarded: %v", p.Metadata)
	}
	if _, err := s.CreateHold(context.Background(), CreateHoldParams{AmountCents: 10, Currency: "usd", CaptureMode: CaptureManual}); !errors.Is(err, ErrRejected) {
		t.Errorf("below minimum: expected ErrRejected, got %v", err)
	}
}

func TestStripe_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"server error", &stripe.Error{HTTPStatusCode: 503, Msg: "down"}, ErrUnavailable},
		{"rate limited", &stripe.Error{HTTPStatusCode: 429, Msg: "slow down"}, ErrUnavailable},
		{"card declined", &stripe.Error{HTTPStatusCode: 402, Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}, ErrRejected},
		{"missing", &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing, Msg: "no such"}, ErrHoldNotFound},
		{"network", errors.New("dial tcp: connection refused"), ErrUnavailable},
		{"timeout", context.DeadlineExceeded, ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStripe(&fakeIntents{err: tc.err}, nil)
			_, err := s.RetrieveHold(context.Background(), "pi_x")
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStripe_StateConflictIsExplained(t *testing.T) {
	f := &fakeIntents{
		err:   &stripe.Error{HTTPStatusCode: 400, Code: stripe.ErrorCodePaymentIntentUnexpectedState, Msg: "bad state"},
		getPI: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded},
	}
	s := newTestStripe(f, nil)

	if _, err := s.CancelHold(context.Background(), "pi_1", "question-1-cancel"); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("cancel of captured hold: expected ErrAlreadyCaptured, got %v", err)
	}

	f.getPI = &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusCanceled}
	if _, err := s.CaptureHold(context.Background(), "pi_1", nil, ""); !errors.Is(err, ErrAlreadyCanceled) {
		t.Errorf("capture of canceled hold: expected ErrAlreadyCanceled, got %v", err)
	}
}

func TestStripe_FindHoldByQuestionID(t *testing.T) {
	list := func(context.Context, time.Time, int) ([]*stripe.PaymentIntent, error) {
		return []*stripe.PaymentIntent{
			{ID: "pi_other", Status: stripe.PaymentIntentStatusRequiresCapture, Metadata: map[string]string{"question_id": "7"}},
			{ID: "pi_old", Status: stripe.PaymentIntentStatusCanceled, Metadata: map[string]string{"question_id": "42"}},
			{ID: "pi_live", Status: stripe.PaymentIntentStatusRequiresCapture, Metadata: map[string]string{"question_id": "42"}},
		}, nil
	}
	s := newTestStripe(&fakeIntents{}, list)

	h, err := s.FindHoldByQuestionID(context.Background(), 42)
	if err != nil {
		t.Fatalf("FindHoldByQuestionID: %v", err)
	}
	if h == nil || h.ID != "pi_live" {
		t.Errorf("expected pi_live, got %+v", h)
	}
	if h, _ := s.FindHoldByQuestionID(context.Background(), 99); h != nil {
		t.Errorf("expected no hold, got %+v", h)
	}
}
