// Package offers owns the question lifecycle: which transitions are legal, in
// what order the record and the payment hold are changed, and what gets logged
// when the two disagree.
package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/notify"
	"github.com/askexpert/backend/internal/payments"
	"github.com/askexpert/backend/internal/store"
)

// DefaultOfferWindow is how long a Deep Dive offer waits for the expert.
const DefaultOfferWindow = 24 * time.Hour

// QuestionStore is the record store as the state machine sees it.
type QuestionStore interface {
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	CreateQuestion(ctx context.Context, q *models.Question) error
	ConditionalUpdateQuestion(ctx context.Context, id int64, expected models.Status, patch models.QuestionPatch) (bool, error)
	SetPaymentIntentID(ctx context.Context, id int64, paymentIntentID string) (bool, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Question, error)
}

// ExpertStore reads expert pricing and SLA configuration.
type ExpertStore interface {
	GetExpert(ctx context.Context, userID uuid.UUID) (*models.Expert, error)
}

// Ledger durably records payment effects and reconciliation work.
type Ledger interface {
	Record(ctx context.Context, questionID int64, paymentIntentID, kind, detail string)
}

// Outcome is what every transition reports back: the authoritative status after
// the call, whether this call is the one that moved it, and the hold's state.
type Outcome struct {
	QuestionID      int64               `json:"question_id"`
	Status          models.Status       `json:"status"`
	PaymentIntentID string              `json:"payment_intent_id,omitempty"`
	PaymentStatus   payments.HoldStatus `json:"payment_status,omitempty"`
	Applied         bool                `json:"applied"`
	Warnings        []string            `json:"warnings,omitempty"`
}

func (o *Outcome) warn(w string) {
	o.Warnings = append(o.Warnings, w)
}

// IntentRequest asks for a new manual-capture hold ahead of submission.
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	CaptureMode    payments.CaptureMode
	Tier           models.Tier
	ExpertID       uuid.UUID
	Metadata       map[string]string
	IdempotencyKey string
}

// SubmitRequest creates a question against an existing hold.
type SubmitRequest struct {
	Tier               models.Tier
	ExpertID           uuid.UUID
	Title              string
	PriceCents         *int64
	ProposedPriceCents *int64
	PaymentIntentID    string
}

// Service is the offer state machine.
type Service interface {
	CreateIntent(ctx context.Context, actor models.Actor, req IntentRequest) (*payments.Hold, error)
	Submit(ctx context.Context, actor models.Actor, req SubmitRequest) (*models.Question, error)
	ConfirmPayment(ctx context.Context, actor models.Actor, id int64) (Outcome, error)
	Get(ctx context.Context, actor models.Actor, id int64) (*models.Question, error)
	List(ctx context.Context, actor models.Actor, limit int) ([]*models.Question, error)
	Accept(ctx context.Context, actor models.Actor, id int64) (Outcome, error)
	Decline(ctx context.Context, actor models.Actor, id int64, reason string) (Outcome, error)
	ExpireOffer(ctx context.Context, id int64) (Outcome, error)
	Start(ctx context.Context, actor models.Actor, id int64) (Outcome, error)
	Answer(ctx context.Context, actor models.Actor, id int64) (Outcome, error)
	ExpireSLA(ctx context.Context, id int64) (Outcome, error)
	Refund(ctx context.Context, actor models.Actor, id int64, reason string) (Outcome, error)
	ResolveHold(ctx context.Context, q *models.Question) (*payments.Hold, error)
}

// Config tunes the state machine.
type Config struct {
	OfferWindow    time.Duration
	MinChargeCents int64
	Now            func() time.Time
}

type service struct {
	questions QuestionStore
	experts   ExpertStore
	authority payments.Authority
	ledger    Ledger
	notifier  notify.Notifier
	cfg       Config
	log       *slog.Logger
}

func NewService(questions QuestionStore, experts ExpertStore, authority payments.Authority, ledger Ledger, notifier notify.Notifier, cfg Config, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = DefaultOfferWindow
	}
	if cfg.MinChargeCents <= 0 {
		cfg.MinChargeCents = payments.DefaultMinChargeCents
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &service{questions: questions, experts: experts, authority: authority, ledger: ledger, notifier: notifier, cfg: cfg, log: log}
}

var _ Service = (*service)(nil)

func (s *service) now() time.Time {
	return s.cfg.Now().UTC()
}

func (s *service) CreateIntent(ctx context.Context, actor models.Actor, req IntentRequest) (*payments.Hold, error) {
	if actor.Role != models.RoleAsker {
		return nil, fmt.Errorf("%w: only askers create payment intents", ErrForbidden)
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, req.Tier)
	}
	if req.CaptureMode == "" {
		req.CaptureMode = payments.CaptureManual
	}
	if req.CaptureMode != payments.CaptureManual {
		return nil, fmt.Errorf("%w: capture mode must be manual", ErrValidation)
	}
	if req.AmountCents < s.cfg.MinChargeCents {
		return nil, fmt.Errorf("%w: amount must be at least %d cents", ErrValidation, s.cfg.MinChargeCents)
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}
	if req.ExpertID != uuid.Nil {
		expert, err := s.expert(ctx, req.ExpertID)
		if err != nil {
			return nil, err
		}
		if err := validatePrice(expert, req.Tier, req.AmountCents); err != nil {
			return nil, err
		}
	}

	meta := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	// server-owned keys win over anything the client sent
	delete(meta, payments.MetadataQuestionID)
	meta["asker_id"] = actor.ID.String()
	meta["tier"] = string(req.Tier)
	if req.ExpertID != uuid.Nil {
		meta["expert_id"] = req.ExpertID.String()
	}
	key := req.IdempotencyKey
	if key == "" {
		key = "intent-" + uuid.NewString()
	}

	hold, err := s.authority.CreateHold(ctx, payments.CreateHoldParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		CaptureMode:    req.CaptureMode,
		Metadata:       meta,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("create hold: %w", err)
	}
	s.log.Info("payment hold created", "payment_intent_id", hold.ID, "status", hold.Status, "amount_cents", hold.AmountCents)
	return hold, nil
}

func (s *service) Submit(ctx context.Context, actor models.Actor, req SubmitRequest) (*models.Question, error) {
	if actor.Role != models.RoleAsker {
		return nil, fmt.Errorf("%w: only askers submit questions", ErrForbidden)
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, req.Tier)
	}
	if req.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: payment_intent_id is required", ErrValidation)
	}
	expert, err := s.expert(ctx, req.ExpertID)
	if err != nil {
		return nil, err
	}

	q := &models.Question{
		Tier:             req.Tier,
		AskerID:          actor.ID,
		ExpertID:         expert.UserID,
		Title:            req.Title,
		Currency:         expert.Currency,
		SLAHoursSnapshot: expert.SLAHours,
		PaymentIntentID:  req.PaymentIntentID,
	}
	if req.Tier == models.TierQuickConsult {
		price := expert.QuickPriceCents
		if req.PriceCents != nil && *req.PriceCents != price {
			return nil, fmt.Errorf("%w: price_cents must be %d for this expert", ErrValidation, price)
		}
		q.PriceCents = &price
	} else {
		if req.ProposedPriceCents == nil {
			return nil, fmt.Errorf("%w: proposed_price_cents is required for deep_dive", ErrValidation)
		}
		proposed := *req.ProposedPriceCents
		q.ProposedPriceCents = &proposed
	}
	if err := validatePrice(expert, q.Tier, q.AmountCents()); err != nil {
		return nil, err
	}
	if q.AmountCents() < s.cfg.MinChargeCents {
		return nil, fmt.Errorf("%w: amount must be at least %d cents", ErrValidation, s.cfg.MinChargeCents)
	}

	hold, err := s.authority.RetrieveHold(ctx, req.PaymentIntentID)
	if errors.Is(err, payments.ErrHoldNotFound) {
		return nil, fmt.Errorf("%w: unknown payment_intent_id", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve hold: %w", err)
	}
	if err := checkHoldForSubmit(hold, q, actor); err != nil {
		return nil, err
	}

	now := s.now()
	q.CreatedAt = now
	q.Status = models.StatusPendingPayment
	if hold.Status == payments.HoldRequiresCapture {
		q.Status = fundedStatus(q.Tier)
	}
	if q.Tier == models.TierDeepDive {
		expires := now.Add(s.cfg.OfferWindow)
		q.OfferExpiresAt = &expires
	}

	if err := s.questions.CreateQuestion(ctx, q); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: payment intent already used by another question", ErrValidation)
		}
		return nil, err
	}
	log := s.log.With("question_id", q.ID, "payment_intent_id", hold.ID)
	log.Info("question created", "status", q.Status, "tier", q.Tier)

	// Tag the hold so it can be found again if the stored id is ever lost.
	_, err = s.authority.UpdateHoldMetadata(context.WithoutCancel(ctx), hold.ID,
		map[string]string{payments.MetadataQuestionID: strconv.FormatInt(q.ID, 10)},
		payments.IdempotencyKey(q.ID, "tag"))
	if err != nil {
		log.Warn("tag payment hold with question id", "error", err)
	}

	s.emit(ctx, notify.EventQuestionCreated, q, "")
	return q, nil
}

func checkHoldForSubmit(h *payments.Hold, q *models.Question, actor models.Actor) error {
	if h.AmountCents != q.AmountCents() {
		return fmt.Errorf("%w: payment hold is for %d cents, question costs %d", ErrValidation, h.AmountCents, q.AmountCents())
	}
	if q.Currency != "" && h.Currency != q.Currency {
		return fmt.Errorf("%w: payment hold currency %s does not match %s", ErrValidation, h.Currency, q.Currency)
	}
	if h.CaptureMode != payments.CaptureManual {
		return fmt.Errorf("%w: payment hold must use manual capture", ErrValidation)
	}
	if owner, ok := h.Metadata["asker_id"]; ok && owner != actor.ID.String() {
		return fmt.Errorf("%w: payment hold belongs to another asker", ErrForbidden)
	}
	if tagged := h.Metadata[payments.MetadataQuestionID]; tagged != "" {
		return fmt.Errorf("%w: payment hold already attached to question %s", ErrValidation, tagged)
	}
	if h.Status.Terminal() {
		return fmt.Errorf("%w: payment hold is already %s", ErrValidation, h.Status)
	}
	return nil
}

// validatePrice checks an amount against the expert's configuration as read now.
// It runs at submission only; acceptance does not re-check.
func validatePrice(e *models.Expert, tier models.Tier, amount int64) error {
	switch tier {
	case models.TierQuickConsult:
		if amount != e.QuickPriceCents {
			return fmt.Errorf("%w: quick consult price is %d cents", ErrValidation, e.QuickPriceCents)
		}
	case models.TierDeepDive:
		if !e.AcceptsDeepDive {
			return fmt.Errorf("%w: expert does not accept deep dive questions", ErrValidation)
		}
		if amount < e.DeepDiveMinCents || amount > e.DeepDiveMaxCents {
			return fmt.Errorf("%w: proposed price must be between %d and %d cents", ErrValidation, e.DeepDiveMinCents, e.DeepDiveMaxCents)
		}
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, tier)
	}
	return nil
}

func (s *service) ConfirmPayment(ctx context.Context, actor models.Actor, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventConfirmPayment, actor)
	if err != nil || stale {
		return current(q), err
	}
	hold, err := s.ResolveHold(ctx, q)
	if err != nil {
		return Outcome{}, err
	}
	out := current(q)
	out.PaymentIntentID, out.PaymentStatus = hold.ID, hold.Status
	if hold.Status != payments.HoldRequiresCapture {
		out.warn("payment not yet authorized")
		return out, nil
	}
	return s.apply(ctx, q, EventConfirmPayment, to, models.QuestionPatch{Status: to}, out)
}

func (s *service) Get(ctx context.Context, actor models.Actor, id int64) (*models.Question, error) {
	q, err := s.question(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleScheduler && actor.ID != q.AskerID && actor.ID != q.ExpertID {
		return nil, fmt.Errorf("%w: not a party to question %d", ErrForbidden, id)
	}
	return q, nil
}

func (s *service) List(ctx context.Context, actor models.Actor, limit int) ([]*models.Question, error) {
	return s.questions.ListByParticipant(ctx, actor.ID, limit)
}

func (s *service) Accept(ctx context.Context, actor models.Actor, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventAccept, actor)
	if err != nil || stale {
		return current(q), err
	}
	now := s.now()
	if !q.OfferOpen(now) {
		return s.expireLate(ctx, q)
	}

	ok, err := s.questions.ConditionalUpdateQuestion(ctx, q.ID, q.Status, models.QuestionPatch{
		Status:      to,
		AcceptedAt:  &now,
		OfferOpenAt: &now,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		latest, err := s.question(ctx, q.ID)
		if err != nil {
			return Outcome{}, err
		}
		// Still pending means the window guard rejected the write.
		if latest.Status == models.StatusPendingOffer {
			return s.expireLate(ctx, latest)
		}
		return current(latest), nil
	}

	q.Status, q.AcceptedAt = to, &now
	out := current(q)
	out.Applied = true
	s.log.Info("offer accepted", "question_id", q.ID, "status", to)

	// The hold is left alone; only report on it.
	if hold, err := s.ResolveHold(context.WithoutCancel(ctx), q); err == nil {
		out.PaymentIntentID, out.PaymentStatus = hold.ID, hold.Status
	} else {
		s.log.Warn("resolve hold after accept", "question_id", q.ID, "error", err)
		out.warn(holdWarning(err))
	}
	s.emit(ctx, notify.EventOfferAccepted, q, "")
	return out, nil
}

// expireLate runs the expiry path for an accept that arrived after the window closed.
func (s *service) expireLate(ctx context.Context, q *models.Question) (Outcome, error) {
	out, err := s.cancelTransition(ctx, q, EventExpireOffer, models.StatusOfferExpired, "offer window elapsed")
	if err != nil {
		return out, err
	}
	out.Applied = false
	out.warn(WarnOfferWindowClosed)
	return out, nil
}

func (s *service) Decline(ctx context.Context, actor models.Actor, id int64, reason string) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventDecline, actor)
	if err != nil || stale {
		return current(q), err
	}
	if reason == "" {
		reason = "declined by expert"
	}
	return s.cancelTransition(ctx, q, EventDecline, to, reason)
}

func (s *service) Start(ctx context.Context, actor models.Actor, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventStart, actor)
	if err != nil || stale {
		return current(q), err
	}
	return s.apply(ctx, q, EventStart, to, models.QuestionPatch{Status: to}, current(q))
}

// Answer captures the hold and then closes the question. A capture failure leaves
// the status untouched so the call can be retried.
func (s *service) Answer(ctx context.Context, actor models.Actor, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventAnswer, actor)
	if err != nil || stale {
		return current(q), err
	}
	log := s.log.With("question_id", q.ID)

	hold, err := s.ResolveHold(ctx, q)
	if err != nil {
		return current(q), err
	}
	log = log.With("payment_intent_id", hold.ID)
	// Once money has moved the answer must be recorded even if the caller went away.
	committed := context.WithoutCancel(ctx)

	switch hold.Status {
	case payments.HoldSucceeded:
		log.Info("hold already captured; not capturing again")
	case payments.HoldRequiresCapture:
		captured, err := s.authority.CaptureHold(ctx, hold.ID, nil, payments.IdempotencyKey(q.ID, "capture"))
		switch {
		case err == nil:
			hold = captured
			s.ledger.Record(committed, q.ID, hold.ID, models.PaymentEventHoldCaptured, fmt.Sprintf("%d cents", hold.ReceivedCents))
		case errors.Is(err, payments.ErrAlreadyCaptured):
			hold.Status = payments.HoldSucceeded
		case errors.Is(err, payments.ErrAlreadyCanceled):
			return s.lostToCancel(ctx, q, err)
		default:
			log.Warn("capture failed", "error", err)
			return current(q), fmt.Errorf("capture hold: %w", err)
		}
	case payments.HoldCanceled:
		return s.lostToCancel(ctx, q, payments.ErrAlreadyCanceled)
	default:
		return current(q), fmt.Errorf("capture hold: %w", &payments.UnexpectedStateError{Op: "capture", Actual: hold.Status})
	}

	now := s.now()
	out := current(q)
	out.PaymentIntentID, out.PaymentStatus = hold.ID, hold.Status
	out, err = s.apply(committed, q, EventAnswer, to, models.QuestionPatch{Status: to, AnsweredAt: &now}, out)
	if err != nil {
		log.Error("hold captured but answer not recorded", "error", err)
		s.ledger.Record(committed, q.ID, hold.ID, models.PaymentEventReconciliationRequired,
			fmt.Sprintf("hold captured but status write failed: %v", err))
	}
	return out, err
}

// lostToCancel handles a capture attempt on a hold that was released, which only
// happens when a cancel-type transition won. Report the winner if there is one.
func (s *service) lostToCancel(ctx context.Context, q *models.Question, cause error) (Outcome, error) {
	latest, err := s.question(ctx, q.ID)
	if err != nil {
		return Outcome{}, err
	}
	if latest.Status.Terminal() {
		return current(latest), nil
	}
	s.ledger.Record(ctx, q.ID, q.PaymentIntentID, models.PaymentEventReconciliationRequired,
		fmt.Sprintf("hold canceled while question is %s", latest.Status))
	return current(latest), fmt.Errorf("capture hold: %w", cause)
}

func (s *service) ExpireOffer(ctx context.Context, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventExpireOffer, models.SchedulerActor)
	if err != nil || stale {
		return current(q), err
	}
	if q.OfferOpen(s.now()) {
		return current(q), fmt.Errorf("%w: offer window still open", ErrInvalidTransition)
	}
	return s.cancelTransition(ctx, q, EventExpireOffer, to, "offer window elapsed")
}

func (s *service) ExpireSLA(ctx context.Context, id int64) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventExpireSLA, models.SchedulerActor)
	if err != nil || stale {
		return current(q), err
	}
	if q.AnsweredAt != nil || s.now().Before(q.SLADeadline()) {
		return current(q), fmt.Errorf("%w: response window still open", ErrInvalidTransition)
	}
	return s.cancelTransition(ctx, q, EventExpireSLA, to, "response window elapsed")
}

// Refund releases the hold and closes the question. A hold that was already
// captured is refused outright and the question keeps its status.
func (s *service) Refund(ctx context.Context, actor models.Actor, id int64, reason string) (Outcome, error) {
	q, to, stale, err := s.prepare(ctx, id, EventRefund, actor)
	if err != nil || stale {
		return current(q), err
	}
	hold, err := s.ResolveHold(ctx, q)
	switch {
	case err == nil && hold.Status == payments.HoldSucceeded:
		s.ledger.Record(ctx, q.ID, hold.ID, models.PaymentEventManualRefundRequired, "refund requested after capture")
		return current(q), ErrManualRefundRequired
	case err != nil && !errors.Is(err, ErrHoldNotFound) && !payments.IsRetryable(err):
		return current(q), err
	}
	// Hold missing or authority down: the status still moves; cancelTransition records it.
	if reason == "" {
		reason = fmt.Sprintf("refund requested by %s", actor.Role)
	}
	return s.cancelTransition(ctx, q, EventRefund, to, reason)
}

// prepare loads the question and checks actor and status for ev.
func (s *service) prepare(ctx context.Context, id int64, ev Event, actor models.Actor) (*models.Question, models.Status, bool, error) {
	q, err := s.question(ctx, id)
	if err != nil {
		return nil, "", false, err
	}
	if err := Authorize(q, ev, actor); err != nil {
		return q, "", false, err
	}
	to, stale, err := Next(q, ev)
	return q, to, stale, err
}

func (s *service) question(ctx context.Context, id int64) (*models.Question, error) {
	q, err := s.questions.GetQuestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: question %d", ErrNotFound, id)
	}
	return q, err
}

func (s *service) expert(ctx context.Context, id uuid.UUID) (*models.Expert, error) {
	e, err := s.experts.GetExpert(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown expert %s", ErrValidation, id)
	}
	return e, err
}

// apply writes a transition that has no payment side effect left to perform.
func (s *service) apply(ctx context.Context, q *models.Question, ev Event, to models.Status, patch models.QuestionPatch, out Outcome) (Outcome, error) {
	ok, err := s.questions.ConditionalUpdateQuestion(ctx, q.ID, q.Status, patch)
	if err != nil {
		return out, err
	}
	if !ok {
		latest, err := s.question(ctx, q.ID)
		if err != nil {
			return out, err
		}
		out.Status, out.Applied = latest.Status, false
		s.log.Info("transition lost race", "question_id", q.ID, "event", ev, "status", latest.Status)
		return out, nil
	}
	from := q.Status
	q.Status = to
	if patch.AnsweredAt != nil {
		q.AnsweredAt = patch.AnsweredAt
	}
	out.Status, out.Applied = to, true
	s.log.Info("question transitioned", "question_id", q.ID, "event", ev, "from", from, "status", to)
	s.emit(ctx, eventNotification(ev), q, "")
	return out, nil
}

// cancelTransition is the one path behind decline, offer expiry, SLA expiry and
// refund: write the status first, then release the hold. Hold failures never undo
// the status; they are recorded for reconciliation.
func (s *service) cancelTransition(ctx context.Context, q *models.Question, ev Event, to models.Status, reason string) (Outcome, error) {
	ok, err := s.questions.ConditionalUpdateQuestion(ctx, q.ID, q.Status, models.QuestionPatch{
		Status:       to,
		StatusReason: &reason,
	})
	if err != nil {
		return current(q), err
	}
	if !ok {
		latest, err := s.question(ctx, q.ID)
		if err != nil {
			return current(q), err
		}
		s.log.Info("transition lost race", "question_id", q.ID, "event", ev, "status", latest.Status)
		return current(latest), nil
	}
	from := q.Status
	q.Status, q.StatusReason = to, reason
	out := current(q)
	out.Applied = true
	s.log.Info("question transitioned", "question_id", q.ID, "event", ev, "from", from, "status", to, "reason", reason)

	// The status is committed; finish the money side even if the caller went away.
	s.releaseHold(context.WithoutCancel(ctx), q, &out)
	s.emit(ctx, eventNotification(ev), q, reason)
	return out, nil
}

// releaseHold cancels the question's hold when it can still be cancelled.
func (s *service) releaseHold(ctx context.Context, q *models.Question, out *Outcome) {
	log := s.log.With("question_id", q.ID)
	hold, err := s.ResolveHold(ctx, q)
	if err != nil {
		out.warn(holdWarning(err))
		s.ledger.Record(ctx, q.ID, q.PaymentIntentID, models.PaymentEventReconciliationRequired,
			fmt.Sprintf("%s: %v", q.Status, err))
		return
	}
	out.PaymentIntentID, out.PaymentStatus = hold.ID, hold.Status
	log = log.With("payment_intent_id", hold.ID)

	switch {
	case hold.Status == payments.HoldCanceled:
		log.Info("hold already released")
	case hold.Status == payments.HoldSucceeded:
		s.manualRefund(ctx, q, hold.ID, out)
	case hold.Status.Cancelable():
		canceled, err := s.authority.CancelHold(ctx, hold.ID, payments.IdempotencyKey(q.ID, "cancel"))
		switch {
		case err == nil:
			out.PaymentStatus = canceled.Status
			s.ledger.Record(ctx, q.ID, hold.ID, models.PaymentEventHoldCanceled, q.StatusReason)
		case errors.Is(err, payments.ErrAlreadyCanceled):
			out.PaymentStatus = payments.HoldCanceled
		case errors.Is(err, payments.ErrAlreadyCaptured):
			out.PaymentStatus = payments.HoldSucceeded
			s.manualRefund(ctx, q, hold.ID, out)
		default:
			log.Warn("cancel hold failed", "error", err)
			out.warn(WarnHoldUnresolved)
			s.ledger.Record(ctx, q.ID, hold.ID, models.PaymentEventReconciliationRequired, fmt.Sprintf("cancel failed: %v", err))
		}
	default:
		out.warn(WarnHoldUnresolved)
		s.ledger.Record(ctx, q.ID, hold.ID, models.PaymentEventReconciliationRequired,
			fmt.Sprintf("hold in status %s could not be canceled", hold.Status))
	}
}

func (s *service) manualRefund(ctx context.Context, q *models.Question, holdID string, out *Outcome) {
	out.warn(WarnManualRefund)
	s.ledger.Record(ctx, q.ID, holdID, models.PaymentEventManualRefundRequired,
		fmt.Sprintf("hold captured but question moved to %s", q.Status))
}

func holdWarning(err error) string {
	if errors.Is(err, ErrHoldNotFound) {
		return WarnHoldNotFound
	}
	return WarnHoldUnresolved
}

func current(q *models.Question) Outcome {
	if q == nil {
		return Outcome{}
	}
	return Outcome{QuestionID: q.ID, Status: q.Status, PaymentIntentID: q.PaymentIntentID}
}

func (s *service) emit(ctx context.Context, eventType string, q *models.Question, reason string) {
	if eventType == "" {
		return
	}
	s.notifier.Notify(ctx, eventType, notify.Payload{
		QuestionID:      q.ID,
		Status:          string(q.Status),
		Reason:          reason,
		AskerID:         q.AskerID.String(),
		ExpertID:        q.ExpertID.String(),
		PaymentIntentID: q.PaymentIntentID,
		OccurredAt:      s.now(),
	})
}

func eventNotification(ev Event) string {
	switch ev {
	case EventConfirmPayment:
		return notify.EventPaymentConfirmed
	case EventAccept:
		return notify.EventOfferAccepted
	case EventDecline:
		return notify.EventOfferDeclined
	case EventExpireOffer:
		return notify.EventOfferExpired
	case EventStart:
		return notify.EventQuestionStarted
	case EventAnswer:
		return notify.EventQuestionAnswered
	case EventExpireSLA:
		return notify.EventSLAExpired
	case EventRefund:
		return notify.EventRefunded
	}
	return ""
}
