package payments

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Op names an adapter operation, for call counting and fault injection.
type Op string

const (
	OpCreate   Op = "create"
	OpRetrieve Op = "retrieve"
	OpCapture  Op = "capture"
	OpCancel   Op = "cancel"
	OpFind     Op = "find"
	OpUpdate   Op = "update"
)

// Simulated is the mock-mode adapter. It keeps holds in memory and walks them through
// the same status machine as the processor, including idempotent replays, without any
// network I/O. Every hold it returns has Kind == KindSimulated.
type Simulated struct {
	mu            sync.Mutex
	seq           int
	holds         map[string]*Hold
	replays       map[string]replay
	calls         map[Op]int
	failNext      map[Op]error
	initialStatus HoldStatus
	minCharge     int64
	now           func() time.Time
}

type replay struct {
	hold *Hold
	err  error
	// params fingerprints the create request; a reused key must carry the same one.
	params string
}

// SimulatedOption customizes a Simulated adapter.
type SimulatedOption func(*Simulated)

// WithInitialStatus sets the status new holds start in. The default models a card
// that was confirmed client-side, i.e. requires_capture.
func WithInitialStatus(s HoldStatus) SimulatedOption {
	return func(a *Simulated) { a.initialStatus = s }
}

// WithMinCharge overrides the minimum chargeable amount.
func WithMinCharge(cents int64) SimulatedOption {
	return func(a *Simulated) { a.minCharge = cents }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) SimulatedOption {
	return func(a *Simulated) { a.now = now }
}

// NewSimulated returns an empty in-memory adapter.
func NewSimulated(opts ...SimulatedOption) *Simulated {
	a := &Simulated{
		holds:         make(map[string]*Hold),
		replays:       make(map[string]replay),
		calls:         make(map[Op]int),
		failNext:      make(map[Op]error),
		initialStatus: HoldRequiresCapture,
		minCharge:     DefaultMinChargeCents,
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Simulated) Mode() Mode { return ModeSimulated }

// Calls returns how many times op was invoked.
func (a *Simulated) Calls(op Op) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// FailNext makes the next call to op return err without touching any hold.
func (a *Simulated) FailNext(op Op, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext[op] = err
}

// SetStatus forces a hold into status, as if changed out of band at the processor.
func (a *Simulated) SetStatus(id string, s HoldStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.holds[id]; ok {
		h.Status = s
		if s == HoldSucceeded {
			h.ReceivedCents = h.AmountCents
			h.CapturableCents = 0
		}
	}
}

// Confirm simulates the payer completing card entry: requires_payment_method
// becomes requires_capture.
func (a *Simulated) Confirm(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.holds[id]
	if !ok {
		return ErrHoldNotFound
	}
	if h.Status != HoldRequiresPaymentMethod && h.Status != HoldRequiresConfirmation {
		return &UnexpectedStateError{Op: "confirm", Actual: h.Status}
	}
	h.Status = HoldRequiresCapture
	h.CapturableCents = h.AmountCents
	return nil
}

// begin counts the call and pops any injected failure. Caller holds a.mu.
func (a *Simulated) begin(ctx context.Context, op Op) error {
	a.calls[op]++
	if err, ok := a.failNext[op]; ok {
		delete(a.failNext, op)
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return nil
}

// replayed returns the stored outcome for key. Caller holds a.mu.
func (a *Simulated) replayed(op Op, key string) (replay, bool) {
	if key == "" {
		return replay{}, false
	}
	r, ok := a.replays[string(op)+":"+key]
	return r, ok
}

func (a *Simulated) remember(op Op, key string, h *Hold, err error) {
	if key == "" {
		return
	}
	var snap *Hold
	if h != nil {
		snap = clone(h)
	}
	a.replays[string(op)+":"+key] = replay{hold: snap, err: err}
}

func (a *Simulated) CreateHold(ctx context.Context, p CreateHoldParams) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpCreate); err != nil {
		return nil, err
	}
	fp := createFingerprint(p)
	if r, ok := a.replayed(OpCreate, p.IdempotencyKey); ok {
		if r.params != fp {
			return nil, fmt.Errorf("%w: idempotency key %q reused with different parameters", ErrRejected, p.IdempotencyKey)
		}
		return clone(r.hold), r.err
	}
	if err := validateCreate(p, a.minCharge); err != nil {
		return nil, err
	}
	a.seq++
	id := fmt.Sprintf("pi_sim_%06d", a.seq)
	h := &Hold{
		ID:           id,
		Kind:         KindSimulated,
		Status:       a.initialStatus,
		AmountCents:  p.AmountCents,
		Currency:     strings.ToLower(p.Currency),
		CaptureMode:  p.CaptureMode,
		Metadata:     copyMetadata(p.Metadata),
		ClientSecret: id + "_secret_sim",
		CreatedAt:    a.now().UTC(),
	}
	if h.Status == HoldRequiresCapture {
		h.CapturableCents = h.AmountCents
	}
	a.holds[id] = h
	if p.IdempotencyKey != "" {
		a.replays[string(OpCreate)+":"+p.IdempotencyKey] = replay{hold: clone(h), params: fp}
	}
	return clone(h), nil
}

func createFingerprint(p CreateHoldParams) string {
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s", p.AmountCents, strings.ToLower(p.Currency), p.CaptureMode)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, p.Metadata[k])
	}
	return b.String()
}

func (a *Simulated) RetrieveHold(ctx context.Context, id string) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpRetrieve); err != nil {
		return nil, err
	}
	h, ok := a.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
	}
	return clone(h), nil
}

func (a *Simulated) CaptureHold(ctx context.Context, id string, amountCents *int64, idempotencyKey string) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpCapture); err != nil {
		return nil, err
	}
	if r, ok := a.replayed(OpCapture, idempotencyKey); ok {
		return clone(r.hold), r.err
	}
	h, ok := a.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
	}
	if h.Status != HoldRequiresCapture {
		err := stateError("capture", h.Status)
		a.remember(OpCapture, idempotencyKey, nil, err)
		return nil, err
	}
	amount := h.CapturableCents
	if amountCents != nil {
		if *amountCents <= 0 || *amountCents > h.CapturableCents {
			return nil, fmt.Errorf("%w: capture amount %d exceeds capturable %d", ErrRejected, *amountCents, h.CapturableCents)
		}
		amount = *amountCents
	}
	h.Status = HoldSucceeded
	h.ReceivedCents = amount
	h.CapturableCents = 0
	a.remember(OpCapture, idempotencyKey, h, nil)
	return clone(h), nil
}

func (a *Simulated) CancelHold(ctx context.Context, id string, idempotencyKey string) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpCancel); err != nil {
		return nil, err
	}
	if r, ok := a.replayed(OpCancel, idempotencyKey); ok {
		return clone(r.hold), r.err
	}
	h, ok := a.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
	}
	if !h.Status.Cancelable() {
		err := stateError("cancel", h.Status)
		a.remember(OpCancel, idempotencyKey, nil, err)
		return nil, err
	}
	h.Status = HoldCanceled
	h.CapturableCents = 0
	a.remember(OpCancel, idempotencyKey, h, nil)
	return clone(h), nil
}

func (a *Simulated) UpdateHoldMetadata(ctx context.Context, id string, patch map[string]string, idempotencyKey string) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpUpdate); err != nil {
		return nil, err
	}
	h, ok := a.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
	}
	for k, v := range patch {
		h.Metadata[k] = v
	}
	return clone(h), nil
}

func (a *Simulated) FindHoldByQuestionID(ctx context.Context, questionID int64) (*Hold, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, OpFind); err != nil {
		return nil, err
	}
	holds := make([]*Hold, 0, len(a.holds))
	for _, h := range a.holds {
		holds = append(holds, h)
	}
	// newest first, like the processor's list endpoint
	sort.Slice(holds, func(i, j int) bool { return holds[i].ID > holds[j].ID })
	h := pickHold(holds, questionID)
	if h == nil {
		return nil, nil
	}
	return clone(h), nil
}

func clone(h *Hold) *Hold {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Metadata = copyMetadata(h.Metadata)
	return &cp
}
