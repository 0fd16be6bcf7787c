package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/askexpert/backend/internal/ratelimit"
)

// Limiter is the interface used by the rate limit middleware.
type Limiter interface {
	Allow(ctx context.Context, class ratelimit.Class, identity string) (ratelimit.Result, error)
}

// nowFn is the clock used for Retry-After. Tests can replace it.
var nowFn = time.Now

// RateLimit admits the request if the caller still has budget in class. The caller
// is the authenticated actor when there is one, else the client address.
func RateLimit(limiter Limiter, class ratelimit.Class, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := callerIdentity(r)
			res, err := limiter.Allow(r.Context(), class, identity)
			if err != nil {
				log.Warn("rate limit check failed; allowing request", "class", class, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if res.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				retry := int(math.Ceil(res.ResetAt.Sub(nowFn()).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, fmt.Sprintf(`{"error":"rate limit exceeded","kind":"rate_limited","retry_after_seconds":%d}`, retry), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerIdentity(r *http.Request) string {
	if a, ok := ActorFromCtx(r.Context()); ok {
		return string(a.Role) + ":" + a.ID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
