package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Mode selects the adapter variant at construction time.
type Mode string

const (
	ModeStripe    Mode = "stripe"
	ModeSimulated Mode = "simulated"
)

// DefaultMinChargeCents is the smallest amount the processor will authorize.
const DefaultMinChargeCents = 50

// Authority is the payment-authority capability the rest of the system depends on.
// Every mutating call accepts an idempotency key that the processor deduplicates on.
type Authority interface {
	Mode() Mode
	CreateHold(ctx context.Context, p CreateHoldParams) (*Hold, error)
	RetrieveHold(ctx context.Context, id string) (*Hold, error)
	// CaptureHold settles the hold; amountCents nil captures the full authorized amount.
	CaptureHold(ctx context.Context, id string, amountCents *int64, idempotencyKey string) (*Hold, error)
	CancelHold(ctx context.Context, id string, idempotencyKey string) (*Hold, error)
	// FindHoldByQuestionID scans recent holds for a matching question_id tag.
	// It returns nil, nil when no hold carries the tag.
	FindHoldByQuestionID(ctx context.Context, questionID int64) (*Hold, error)
	UpdateHoldMetadata(ctx context.Context, id string, patch map[string]string, idempotencyKey string) (*Hold, error)
}

// CreateHoldParams describes a new manual-capture authorization.
type CreateHoldParams struct {
	AmountCents    int64
	Currency       string
	CaptureMode    CaptureMode
	Metadata       map[string]string
	IdempotencyKey string
}

// Config selects and configures the adapter.
type Config struct {
	Mode           Mode
	SecretKey      string
	Timeout        time.Duration
	MinChargeCents int64
}

// New returns the adapter variant named by cfg.Mode.
func New(cfg Config, log *slog.Logger) (Authority, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MinChargeCents <= 0 {
		cfg.MinChargeCents = DefaultMinChargeCents
	}
	switch cfg.Mode {
	case ModeSimulated:
		log.Warn("payment authority running in simulated mode; no money moves")
		return NewSimulated(WithMinCharge(cfg.MinChargeCents)), nil
	case ModeStripe, "":
		if cfg.SecretKey == "" {
			return nil, ErrNotConfigured
		}
		return NewStripe(cfg, log), nil
	default:
		return nil, fmt.Errorf("payments: unknown mode %q", cfg.Mode)
	}
}

// IdempotencyKey derives the processor-side dedup key for a transition on a question.
func IdempotencyKey(questionID int64, transition string) string {
	return fmt.Sprintf("question-%d-%s", questionID, transition)
}

func validateCreate(p CreateHoldParams, minCharge int64) error {
	if p.AmountCents < minCharge {
		return fmt.Errorf("%w: amount %d below minimum %d", ErrRejected, p.AmountCents, minCharge)
	}
	if p.CaptureMode != CaptureManual {
		return fmt.Errorf("%w: capture mode %q not supported", ErrRejected, p.CaptureMode)
	}
	if p.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrRejected)
	}
	return nil
}
