package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/askexpert/backend/internal/auth"
	"github.com/askexpert/backend/internal/handlers"
	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/offers"
	"github.com/askexpert/backend/internal/ratelimit"
	"github.com/askexpert/backend/internal/sweeps"
	"github.com/askexpert/backend/internal/validation"
)

// stubService implements only what the routes under test reach.
type stubService struct {
	offers.Service
	acceptedID int64
	actor      models.Actor
}

func (s *stubService) Accept(_ context.Context, a models.Actor, id int64) (offers.Outcome, error) {
	s.acceptedID, s.actor = id, a
	return offers.Outcome{QuestionID: id, Status: models.StatusAccepted, Applied: true}, nil
}

type stubSweeper struct{ runs int }

func (s *stubSweeper) RunOfferSweep(context.Context) (sweeps.Summary, error) {
	s.runs++
	return sweeps.Summary{Errors: []sweeps.ItemError{}}, nil
}

func (s *stubSweeper) RunSLASweep(context.Context) (sweeps.Summary, error) {
	s.runs++
	return sweeps.Summary{Errors: []sweeps.ItemError{}}, nil
}

type fixture struct {
	handler http.Handler
	svc     *stubService
	sweeper *stubSweeper
	tokens  auth.Service
	ping    error
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	v, err := validation.New()
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{svc: &stubService{}, sweeper: &stubSweeper{}, tokens: auth.NewService("router-test-secret")}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore())
	}
	f.handler = New(Deps{
		Questions:  &handlers.QuestionHandler{Offers: f.svc, Validator: v, Logger: slog.Default()},
		Cron:       &handlers.CronHandler{Sweeps: f.sweeper, Logger: slog.Default()},
		Tokens:     f.tokens,
		CronSecret: auth.NewSecretVerifier("cron-secret", ""),
		Limiter:    limiter,
		Ping:       func(context.Context) error { return f.ping },
	})
	return f
}

func (f *fixture) token(t *testing.T, a models.Actor) string {
	t.Helper()
	tok, err := f.tokens.IssueToken(a, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	f.ping = errors.New("db down")
	if rec := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAccept_RequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(http.MethodPost, "/offers/1/accept", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if f.svc.acceptedID != 0 {
		t.Error("handler must not run unauthenticated")
	}
}

func TestAccept_RoutesWithActorAndID(t *testing.T) {
	f := newFixture(t, nil)
	expert := models.Actor{ID: uuid.New(), Role: models.RoleExpert}

	rec := f.do(http.MethodPost, "/offers/42/accept", f.token(t, expert))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.svc.acceptedID != 42 || f.svc.actor != expert {
		t.Errorf("service got id %d actor %+v", f.svc.acceptedID, f.svc.actor)
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("accept should be rate limited")
	}
}

func TestAccept_RateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithRule(ratelimit.ClassAccept, 1, time.Minute)))
	tok := f.token(t, models.Actor{ID: uuid.New(), Role: models.RoleExpert})

	if rec := f.do(http.MethodPost, "/offers/1/accept", tok); rec.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", rec.Code)
	}
	rec := f.do(http.MethodPost, "/offers/1/accept", tok)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestAccept_WrongMethod(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(http.MethodGet, "/offers/1/accept", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestCron_RequiresSecret(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(http.MethodPost, "/internal/cron/expire-offers", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no secret: expected 401, got %d", rec.Code)
	}
	user := f.token(t, models.Actor{ID: uuid.New(), Role: models.RoleAsker})
	if rec := f.do(http.MethodPost, "/internal/cron/expire-sla", user); rec.Code != http.StatusUnauthorized {
		t.Errorf("user token: expected 401, got %d", rec.Code)
	}
	if f.sweeper.runs != 0 {
		t.Fatalf("sweeps ran without the secret: %d", f.sweeper.runs)
	}

	rec := f.do(http.MethodPost, "/internal/cron/expire-offers", "cron-secret")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"totalCandidates":0`) {
		t.Errorf("with secret: %d %s", rec.Code, rec.Body.String())
	}
	if f.sweeper.runs != 1 {
		t.Errorf("runs: %d", f.sweeper.runs)
	}
}
