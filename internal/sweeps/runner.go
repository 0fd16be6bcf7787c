// Package sweeps runs the two time-based expiry passes over the question store.
// Each pass is safe to run concurrently with the other and with user actions;
// the conditional write in the store picks the winner.
package sweeps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/offers"
)

const (
	NameOfferSweep = "offer_sweep"
	NameSLASweep   = "sla_sweep"
)

// Candidates lists questions a sweep should look at.
type Candidates interface {
	ListExpiredOffers(ctx context.Context, now time.Time) ([]*models.Question, error)
	ListSLAExpired(ctx context.Context, now time.Time) ([]*models.Question, error)
}

// Transitioner drives the scheduler events of the offer state machine.
type Transitioner interface {
	ExpireOffer(ctx context.Context, id int64) (offers.Outcome, error)
	ExpireSLA(ctx context.Context, id int64) (offers.Outcome, error)
}

// Alerter escalates a sweep run whose error rate crossed the threshold.
type Alerter interface {
	Alert(ctx context.Context, sweep string, s Summary)
}

// ItemError is one question the sweep could not settle cleanly.
type ItemError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// Summary is the aggregate result of one sweep run.
type Summary struct {
	TotalCandidates int         `json:"totalCandidates"`
	Processed       int         `json:"processed"`
	Succeeded       int         `json:"succeeded"`
	Skipped         int         `json:"skipped"`
	Errors          []ItemError `json:"errors"`
}

// ErrorRate is the share of processed items that ended in Errors.
func (s Summary) ErrorRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(len(s.Errors)) / float64(s.Processed)
}

// LogAlerter writes alerts as high-severity log lines for the log pipeline to page on.
type LogAlerter struct {
	Log *slog.Logger
}

func (a LogAlerter) Alert(_ context.Context, sweep string, s Summary) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	log.Error("sweep error rate above threshold",
		"alert", true,
		"severity", "high",
		"job", sweep,
		"processed", s.Processed,
		"errors", len(s.Errors),
		"error_rate", s.ErrorRate(),
	)
}

type Config struct {
	Concurrency int
	// AlertRatio is the error share at or above which a run alerts.
	AlertRatio float64
	Now        func() time.Time
}

type Runner struct {
	candidates Candidates
	machine    Transitioner
	alerter    Alerter
	cfg        Config
	log        *slog.Logger
}

func NewRunner(candidates Candidates, machine Transitioner, alerter Alerter, cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if alerter == nil {
		alerter = LogAlerter{Log: log}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.AlertRatio <= 0 || cfg.AlertRatio > 1 {
		cfg.AlertRatio = 0.5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{candidates: candidates, machine: machine, alerter: alerter, cfg: cfg, log: log}
}

// RunOfferSweep expires every Deep Dive offer whose acceptance window has passed.
func (r *Runner) RunOfferSweep(ctx context.Context) (Summary, error) {
	return r.run(ctx, NameOfferSweep, r.candidates.ListExpiredOffers, r.machine.ExpireOffer)
}

// RunSLASweep expires every unanswered question whose response window has passed.
func (r *Runner) RunSLASweep(ctx context.Context) (Summary, error) {
	return r.run(ctx, NameSLASweep, r.candidates.ListSLAExpired, r.machine.ExpireSLA)
}

type listFunc func(ctx context.Context, now time.Time) ([]*models.Question, error)

type expireFunc func(ctx context.Context, id int64) (offers.Outcome, error)

func (r *Runner) run(ctx context.Context, name string, list listFunc, expire expireFunc) (Summary, error) {
	// A run finishes its batch even if the trigger goes away.
	ctx = context.WithoutCancel(ctx)
	log := r.log.With("job", name)
	started := time.Now()

	items, err := list(ctx, r.cfg.Now().UTC())
	if err != nil {
		log.Error("list sweep candidates", "error", err)
		return Summary{}, fmt.Errorf("%s: list candidates: %w", name, err)
	}

	sum := Summary{TotalCandidates: len(items), Errors: []ItemError{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, q := range items {
		g.Go(func() error {
			out, err := expire(ctx, q.ID)
			mu.Lock()
			defer mu.Unlock()
			sum.Processed++
			switch {
			case errors.Is(err, offers.ErrInvalidTransition):
				// Answered or re-timed since the listing; nothing to do.
				sum.Skipped++
			case err != nil:
				log.Warn("sweep item failed", "question_id", q.ID, "error", err)
				sum.Errors = append(sum.Errors, ItemError{ID: q.ID, Error: err.Error()})
			case len(out.Warnings) > 0:
				msg := strings.Join(out.Warnings, "; ")
				log.Warn("sweep item needs reconciliation", "question_id", q.ID, "status", out.Status, "error", msg)
				sum.Errors = append(sum.Errors, ItemError{ID: q.ID, Error: msg})
			default:
				sum.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("sweep finished",
		"candidates", sum.TotalCandidates,
		"succeeded", sum.Succeeded,
		"skipped", sum.Skipped,
		"errors", len(sum.Errors),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if sum.Processed > 0 && sum.ErrorRate() >= r.cfg.AlertRatio {
		r.alerter.Alert(ctx, name, sum)
	}
	return sum, nil
}
