package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

const (
	defaultAuthorityTimeout = 10 * time.Second
	// holds older than this are not scanned when resolving by question id
	findScanWindow = 7 * 24 * time.Hour
	findScanLimit  = 300
)

// intentAPI is the slice of the Stripe payment-intent client the adapter calls.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// intentLister returns recent payment intents, newest first.
type intentLister func(ctx context.Context, since time.Time, limit int) ([]*stripe.PaymentIntent, error)

// Stripe is the real adapter. Every hold it returns has Kind == KindReal.
type Stripe struct {
	intents   intentAPI
	list      intentLister
	timeout   time.Duration
	minCharge int64
	log       *slog.Logger
}

// NewStripe builds the adapter on a dedicated Stripe client with a bounded HTTP timeout.
func NewStripe(cfg Config, log *slog.Logger) *Stripe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAuthorityTimeout
	}
	api := client.New(cfg.SecretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return newStripe(api.PaymentIntents, listerFor(api.PaymentIntents), timeout, cfg.MinChargeCents, log)
}

func newStripe(intents intentAPI, list intentLister, timeout time.Duration, minCharge int64, log *slog.Logger) *Stripe {
	if log == nil {
		log = slog.Default()
	}
	if minCharge <= 0 {
		minCharge = DefaultMinChargeCents
	}
	return &Stripe{intents: intents, list: list, timeout: timeout, minCharge: minCharge, log: log}
}

func listerFor(c *paymentintent.Client) intentLister {
	return func(ctx context.Context, since time.Time, limit int) ([]*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentListParams{
			CreatedRange: &stripe.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
		}
		params.Context = ctx
		params.Limit = stripe.Int64(100)
		it := c.List(params)
		var out []*stripe.PaymentIntent
		for it.Next() {
			out = append(out, it.PaymentIntent())
			if len(out) >= limit {
				break
			}
		}
		return out, it.Err()
	}
}

func (s *Stripe) Mode() Mode { return ModeStripe }

func (s *Stripe) CreateHold(ctx context.Context, p CreateHoldParams) (*Hold, error) {
	if err := validateCreate(p, s.minCharge); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(strings.ToLower(p.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	pi, err := s.intents.New(params)
	if err != nil {
		return nil, s.mapError(ctx, "create", "", err)
	}
	return holdFromIntent(pi), nil
}

func (s *Stripe) RetrieveHold(ctx context.Context, id string) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(id, params)
	if err != nil {
		return nil, s.mapError(ctx, "retrieve", "", err)
	}
	return holdFromIntent(pi), nil
}

func (s *Stripe) CaptureHold(ctx context.Context, id string, amountCents *int64, idempotencyKey string) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	params := &stripe.PaymentIntentCaptureParams{}
	if amountCents != nil {
		params.AmountToCapture = stripe.Int64(*amountCents)
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	pi, err := s.intents.Capture(id, params)
	if err != nil {
		return nil, s.mapError(ctx, "capture", id, err)
	}
	return holdFromIntent(pi), nil
}

func (s *Stripe) CancelHold(ctx context.Context, id string, idempotencyKey string) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	pi, err := s.intents.Cancel(id, params)
	if err != nil {
		return nil, s.mapError(ctx, "cancel", id, err)
	}
	return holdFromIntent(pi), nil
}

func (s *Stripe) UpdateHoldMetadata(ctx context.Context, id string, patch map[string]string, idempotencyKey string) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	params := &stripe.PaymentIntentParams{}
	for k, v := range patch {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	pi, err := s.intents.Update(id, params)
	if err != nil {
		return nil, s.mapError(ctx, "update", "", err)
	}
	return holdFromIntent(pi), nil
}

// FindHoldByQuestionID lists recent intents rather than using the search API,
// whose index lags behind writes by up to a minute.
func (s *Stripe) FindHoldByQuestionID(ctx context.Context, questionID int64) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	intents, err := s.list(ctx, time.Now().Add(-findScanWindow), findScanLimit)
	if err != nil {
		return nil, s.mapError(ctx, "list", "", err)
	}
	holds := make([]*Hold, 0, len(intents))
	for _, pi := range intents {
		holds = append(holds, holdFromIntent(pi))
	}
	return pickHold(holds, questionID), nil
}

// mapError folds processor errors into the package taxonomy. For state conflicts on
// capture or cancel it re-reads the hold so the caller learns what it actually is.
func (s *Stripe) mapError(ctx context.Context, op, id string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	switch {
	case se.Code == stripe.ErrorCodePaymentIntentUnexpectedState && id != "":
		return s.explainState(ctx, op, id, err)
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s: %s", ErrHoldNotFound, op, se.Msg)
	case se.HTTPStatusCode == 0 || se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, se.Msg)
	default:
		return fmt.Errorf("%w: %s: %s", ErrRejected, op, se.Msg)
	}
}

func (s *Stripe) explainState(ctx context.Context, op, id string, cause error) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(id, params)
	if err != nil {
		s.log.Warn("re-read after state conflict failed", "payment_intent_id", id, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrRejected, op, cause)
	}
	return stateError(op, HoldStatus(pi.Status))
}

func stateError(op string, actual HoldStatus) error {
	switch actual {
	case HoldSucceeded:
		return ErrAlreadyCaptured
	case HoldCanceled:
		return ErrAlreadyCanceled
	}
	return &UnexpectedStateError{Op: op, Actual: actual}
}

func holdFromIntent(pi *stripe.PaymentIntent) *Hold {
	return &Hold{
		ID:              pi.ID,
		Kind:            KindReal,
		Status:          HoldStatus(pi.Status),
		AmountCents:     pi.Amount,
		CapturableCents: pi.AmountCapturable,
		ReceivedCents:   pi.AmountReceived,
		Currency:        string(pi.Currency),
		CaptureMode:     CaptureMode(pi.CaptureMethod),
		Metadata:        copyMetadata(pi.Metadata),
		ClientSecret:    pi.ClientSecret,
		CreatedAt:       time.Unix(pi.Created, 0).UTC(),
	}
}

// pickHold chooses among holds tagged with questionID, preferring one that still
// carries or has taken money over released ones.
func pickHold(holds []*Hold, questionID int64) *Hold {
	want := strconv.FormatInt(questionID, 10)
	var fallback *Hold
	for _, h := range holds {
		if h.Metadata[MetadataQuestionID] != want {
			continue
		}
		if h.Status != HoldCanceled {
			return h
		}
		if fallback == nil {
			fallback = h
		}
	}
	return fallback
}
