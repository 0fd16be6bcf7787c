// Package ratelimit guards low-frequency, high-value mutations per caller.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Class names a group of endpoints that share a bucket per caller.
type Class string

const (
	ClassAccept       Class = "accept"
	ClassDecline      Class = "decline"
	ClassRefund       Class = "refund"
	ClassCreateIntent Class = "create_intent"
	ClassSubmit       Class = "submit"
	ClassAnswer       Class = "answer"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store performs an atomic increment-and-compare on one bucket.
// It returns the count after increment and when the bucket resets.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Rule is the budget for one class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter applies fixed-window limits keyed by class and caller identity.
type Limiter struct {
	store    Store
	rules    map[Class]Rule
	disabled bool
	log      *slog.Logger
	now      func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// Disabled turns every Check into an allow.
func Disabled(d bool) Option {
	return func(l *Limiter) { l.disabled = d }
}

// WithRule sets the budget for class.
func WithRule(class Class, limit int, window time.Duration) Option {
	return func(l *Limiter) { l.rules[class] = Rule{Limit: limit, Window: window} }
}

// WithLogger sets the logger used for store failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// DefaultRules are the per-minute budgets applied when no override is configured.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassAccept:       {Limit: 20, Window: time.Minute},
		ClassDecline:      {Limit: 20, Window: time.Minute},
		ClassRefund:       {Limit: 10, Window: time.Minute},
		ClassCreateIntent: {Limit: 10, Window: time.Minute},
		ClassSubmit:       {Limit: 10, Window: time.Minute},
		ClassAnswer:       {Limit: 30, Window: time.Minute},
	}
}

// New returns a Limiter over store seeded with DefaultRules.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		rules: DefaultRules(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow checks the configured rule for class. Unknown classes are not limited.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) (Result, error) {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}
	return l.Check(ctx, string(class)+":"+identity, rule.Limit, rule.Window)
}

// Check admits at most limit calls per identity within window. The count resets
// entirely at ResetAt. Store errors fail open and are logged.
func (l *Limiter) Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error) {
	if l.disabled {
		return Result{Allowed: true, Remaining: limit, ResetAt: l.now().Add(window)}, nil
	}
	if window <= 0 {
		return Result{}, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	count, resetAt, err := l.store.Incr(ctx, identity, window)
	if err != nil {
		l.log.Warn("rate limit store failed; allowing request", "key", identity, "error", err)
		return Result{Allowed: true, Remaining: limit, ResetAt: l.now().Add(window)}, nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= limit, Remaining: remaining, ResetAt: resetAt}, nil
}
