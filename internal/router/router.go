package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/askexpert/backend/internal/handlers"
	"github.com/askexpert/backend/internal/middleware"
	"github.com/askexpert/backend/internal/ratelimit"
)

// Deps are the handlers and guards the routes are built from.
type Deps struct {
	Questions  *handlers.QuestionHandler
	Cron       *handlers.CronHandler
	Tokens     middleware.TokenValidator
	CronSecret middleware.SecretChecker
	Limiter    middleware.Limiter
	// Ping reports whether the record store is reachable. Optional.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

// New returns the API mux. Mutating routes run Auth -> RateLimit -> handler;
// scheduler routes run CronSecret -> handler.
func New(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	auth := middleware.BearerAuth(d.Tokens)
	limited := func(class ratelimit.Class, h http.HandlerFunc) http.Handler {
		return auth(middleware.RateLimit(d.Limiter, class, log)(h))
	}
	cron := middleware.CronSecret(d.CronSecret)
	q, c := d.Questions, d.Cron

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health(d.Ping))

	mux.Handle("POST /payments/intent", limited(ratelimit.ClassCreateIntent, q.CreateIntent))
	mux.Handle("POST /questions", limited(ratelimit.ClassSubmit, q.Submit))
	mux.Handle("GET /questions", auth(http.HandlerFunc(q.List)))
	mux.Handle("GET /questions/{id}", auth(http.HandlerFunc(q.Get)))
	mux.Handle("POST /questions/{id}/confirm-payment", auth(http.HandlerFunc(q.ConfirmPayment)))
	mux.Handle("POST /questions/{id}/start", auth(http.HandlerFunc(q.Start)))
	mux.Handle("POST /questions/{id}/answer", limited(ratelimit.ClassAnswer, q.Answer))
	mux.Handle("POST /questions/{id}/refund", limited(ratelimit.ClassRefund, q.Refund))
	mux.Handle("POST /offers/{id}/accept", limited(ratelimit.ClassAccept, q.Accept))
	mux.Handle("POST /offers/{id}/decline", limited(ratelimit.ClassDecline, q.Decline))

	mux.Handle("POST /internal/cron/expire-offers", cron(http.HandlerFunc(c.ExpireOffers)))
	mux.Handle("POST /internal/cron/expire-sla", cron(http.HandlerFunc(c.ExpireSLA)))
	mux.Handle("GET /internal/reconciliation", cron(http.HandlerFunc(c.ListReconciliation)))
	mux.Handle("POST /internal/reconciliation/{id}/resolve", cron(http.HandlerFunc(c.ResolveReconciliation)))

	return mux
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	}
}
