package middleware

import (
	"net/http"

	"github.com/askexpert/backend/internal/models"
)

// SecretChecker verifies the scheduler's shared secret.
type SecretChecker interface {
	Verify(presented string) bool
}

// CronSecret admits only callers presenting the scheduler secret, either as a
// Bearer token or in X-Cron-Secret. Admitted requests run as the scheduler.
func CronSecret(secret SecretChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Cron-Secret")
			if presented == "" {
				presented = extractBearer(r)
			}
			if !secret.Verify(presented) {
				http.Error(w, `{"error":"unauthorized","kind":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), models.SchedulerActor)))
		})
	}
}
