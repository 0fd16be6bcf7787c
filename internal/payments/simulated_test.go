package payments

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

func newHold(t *testing.T, a *Simulated, questionID int64) *Hold {
	t.Helper()
	h, err := a.CreateHold(context.Background(), CreateHoldParams{
		AmountCents: 5000,
		Currency:    "USD",
		CaptureMode: CaptureManual,
		Metadata:    map[string]string{MetadataQuestionID: strconv.FormatInt(questionID, 10)},
	})
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	return h
}

func TestSimulated_CreateHold(t *testing.T) {
	a := NewSimulated()
	h := newHold(t, a, 1)

	if h.Kind != KindSimulated {
		t.Errorf("kind: got %v, want simulated", h.Kind)
	}
	if h.Status != HoldRequiresCapture {
		t.Errorf("status: got %s, want requires_capture", h.Status)
	}
	if h.Currency != "usd" {
		t.Errorf("currency: got %q, want usd", h.Currency)
	}
	if h.CapturableCents != 5000 {
		t.Errorf("capturable: got %d, want 5000", h.CapturableCents)
	}
}

func TestSimulated_CreateHoldValidation(t *testing.T) {
	a := NewSimulated()
	ctx := context.Background()

	_, err := a.CreateHold(ctx, CreateHoldParams{AmountCents: 49, Currency: "usd", CaptureMode: CaptureManual})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("below minimum: expected ErrRejected, got %v", err)
	}
	_, err = a.CreateHold(ctx, CreateHoldParams{AmountCents: 500, Currency: "usd", CaptureMode: CaptureAutomatic})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("automatic capture: expected ErrRejected, got %v", err)
	}
}

func TestSimulated_CreateHoldIdempotent(t *testing.T) {
	a := NewSimulated()
	p := CreateHoldParams{AmountCents: 700, Currency: "usd", CaptureMode: CaptureManual, IdempotencyKey: "intent-1"}

	first, err := a.CreateHold(context.Background(), p)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := a.CreateHold(context.Background(), p)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("replayed create returned a new hold: %s vs %s", first.ID, second.ID)
	}
}

func TestSimulated_CreateHoldKeyReusedWithDifferentParams(t *testing.T) {
	a := NewSimulated()
	ctx := context.Background()
	p := CreateHoldParams{
		AmountCents:    700,
		Currency:       "usd",
		CaptureMode:    CaptureManual,
		Metadata:       map[string]string{"asker_id": "a"},
		IdempotencyKey: "intent-1",
	}
	if _, err := a.CreateHold(ctx, p); err != nil {
		t.Fatalf("first create: %v", err)
	}

	other := p
	other.Metadata = map[string]string{"asker_id": "b"}
	if h, err := a.CreateHold(ctx, other); !errors.Is(err, ErrRejected) || h != nil {
		t.Errorf("different payer: got %+v, %v; want ErrRejected", h, err)
	}
	bigger := p
	bigger.AmountCents = 900
	if _, err := a.CreateHold(ctx, bigger); !errors.Is(err, ErrRejected) {
		t.Errorf("different amount: got %v, want ErrRejected", err)
	}

	// Currency case is not part of the request identity.
	same := p
	same.Currency = "USD"
	same.Metadata = map[string]string{"asker_id": "a"}
	if _, err := a.CreateHold(ctx, same); err != nil {
		t.Errorf("identical params: %v", err)
	}
	if n := len(a.holds); n != 1 {
		t.Errorf("holds created: %d, want 1", n)
	}
}

func TestSimulated_CaptureOnce(t *testing.T) {
	a := NewSimulated()
	h := newHold(t, a, 2)
	ctx := context.Background()

	captured, err := a.CaptureHold(ctx, h.ID, nil, "question-2-capture")
	if err != nil {
		t.Fatalf("CaptureHold: %v", err)
	}
	if captured.Status != HoldSucceeded || captured.ReceivedCents != 5000 {
		t.Errorf("after capture: status %s received %d", captured.Status, captured.ReceivedCents)
	}

	// Same key replays the original success.
	again, err := a.CaptureHold(ctx, h.ID, nil, "question-2-capture")
	if err != nil || again.Status != HoldSucceeded {
		t.Errorf("replay: got %v, %v", again, err)
	}

	// A different key hits the state machine.
	if _, err := a.CaptureHold(ctx, h.ID, nil, "other"); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("second capture: expected ErrAlreadyCaptured, got %v", err)
	}
}

func TestSimulated_PartialCapture(t *testing.T) {
	a := NewSimulated()
	h := newHold(t, a, 3)

	amount := int64(1200)
	got, err := a.CaptureHold(context.Background(), h.ID, &amount, "")
	if err != nil {
		t.Fatalf("CaptureHold: %v", err)
	}
	if got.ReceivedCents != 1200 {
		t.Errorf("received: got %d, want 1200", got.ReceivedCents)
	}

	h2 := newHold(t, a, 4)
	tooMuch := int64(9000)
	if _, err := a.CaptureHold(context.Background(), h2.ID, &tooMuch, ""); !errors.Is(err, ErrRejected) {
		t.Errorf("over-capture: expected ErrRejected, got %v", err)
	}
}

func TestSimulated_CancelRules(t *testing.T) {
	a := NewSimulated()
	ctx := context.Background()

	h := newHold(t, a, 5)
	if _, err := a.CancelHold(ctx, h.ID, ""); err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	if _, err := a.CancelHold(ctx, h.ID, ""); !errors.Is(err, ErrAlreadyCanceled) {
		t.Errorf("second cancel: expected ErrAlreadyCanceled, got %v", err)
	}
	if _, err := a.CaptureHold(ctx, h.ID, nil, ""); !errors.Is(err, ErrAlreadyCanceled) {
		t.Errorf("capture after cancel: expected ErrAlreadyCanceled, got %v", err)
	}

	captured := newHold(t, a, 6)
	a.SetStatus(captured.ID, HoldSucceeded)
	if _, err := a.CancelHold(ctx, captured.ID, ""); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("cancel after capture: expected ErrAlreadyCaptured, got %v", err)
	}

	processing := newHold(t, a, 7)
	a.SetStatus(processing.ID, HoldProcessing)
	_, err := a.CancelHold(ctx, processing.ID, "")
	var use *UnexpectedStateError
	if !errors.As(err, &use) || use.Actual != HoldProcessing {
		t.Errorf("cancel while processing: expected UnexpectedStateError(processing), got %v", err)
	}
	if !errors.Is(err, ErrUnexpectedState) {
		t.Errorf("UnexpectedStateError should match ErrUnexpectedState")
	}
}

func TestSimulated_FindHoldByQuestionID(t *testing.T) {
	a := NewSimulated()
	ctx := context.Background()

	old := newHold(t, a, 8)
	if _, err := a.CancelHold(ctx, old.ID, ""); err != nil {
		t.Fatal(err)
	}
	live := newHold(t, a, 8)
	newHold(t, a, 9)

	got, err := a.FindHoldByQuestionID(ctx, 8)
	if err != nil {
		t.Fatalf("FindHoldByQuestionID: %v", err)
	}
	if got == nil || got.ID != live.ID {
		t.Errorf("expected live hold %s, got %+v", live.ID, got)
	}

	none, err := a.FindHoldByQuestionID(ctx, 404)
	if err != nil || none != nil {
		t.Errorf("unknown question: got %+v, %v", none, err)
	}
}

func TestSimulated_UpdateMetadataMakesHoldFindable(t *testing.T) {
	a := NewSimulated()
	ctx := context.Background()
	h, err := a.CreateHold(ctx, CreateHoldParams{AmountCents: 500, Currency: "usd", CaptureMode: CaptureManual})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := a.FindHoldByQuestionID(ctx, 10); got != nil {
		t.Fatalf("hold should not be findable before tagging")
	}
	if _, err := a.UpdateHoldMetadata(ctx, h.ID, map[string]string{MetadataQuestionID: "10"}, ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := a.FindHoldByQuestionID(ctx, 10); got == nil || got.ID != h.ID {
		t.Errorf("expected to find %s after tagging, got %+v", h.ID, got)
	}
}

func TestSimulated_FailNextAndConfirm(t *testing.T) {
	a := NewSimulated(WithInitialStatus(HoldRequiresPaymentMethod))
	h := newHold(t, a, 11)
	if h.Status != HoldRequiresPaymentMethod {
		t.Fatalf("initial status: got %s", h.Status)
	}
	if _, err := a.CaptureHold(context.Background(), h.ID, nil, ""); !errors.Is(err, ErrUnexpectedState) {
		t.Errorf("capture before confirm: expected ErrUnexpectedState, got %v", err)
	}
	if err := a.Confirm(h.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	a.FailNext(OpCapture, ErrUnavailable)
	if _, err := a.CaptureHold(context.Background(), h.ID, nil, ""); !IsRetryable(err) {
		t.Errorf("injected failure should be retryable, got %v", err)
	}
	if _, err := a.CaptureHold(context.Background(), h.ID, nil, ""); err != nil {
		t.Errorf("capture after injected failure: %v", err)
	}
	if n := a.Calls(OpCapture); n != 3 {
		t.Errorf("capture calls: got %d, want 3", n)
	}
}

func TestNew_SelectsVariant(t *testing.T) {
	if _, err := New(Config{Mode: ModeStripe}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("stripe without key: expected ErrNotConfigured, got %v", err)
	}
	a, err := New(Config{Mode: ModeSimulated}, nil)
	if err != nil {
		t.Fatalf("simulated: %v", err)
	}
	if a.Mode() != ModeSimulated {
		t.Errorf("mode: got %s", a.Mode())
	}
	s, err := New(Config{Mode: ModeStripe, SecretKey: "sk_test_x"}, nil)
	if err != nil || s.Mode() != ModeStripe {
		t.Errorf("stripe with key: got %v, %v", s, err)
	}
	if _, err := New(Config{Mode: "paypal"}, nil); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey(42, "capture"); got != "question-42-capture" {
		t.Errorf("got %q", got)
	}
}
