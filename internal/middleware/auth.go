package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/askexpert/backend/internal/models"
)

type contextKey string

const ctxActorKey contextKey = "actor"

// TokenValidator is the interface used by bearer auth middleware.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

// BearerAuth validates the Bearer token and puts the resulting actor into the
// request context.
func BearerAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header","kind":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			actor, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token","kind":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ActorFromCtx returns the authenticated actor, if any.
func ActorFromCtx(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(ctxActorKey).(models.Actor)
	return a, ok
}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
