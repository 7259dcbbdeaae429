package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"pollhub.org/internal/audit"
	"pollhub.org/internal/auth"
	"pollhub.org/internal/csrf"
	"pollhub.org/internal/obs"
	"pollhub.org/internal/ratelimit"
)

const csrfRejectedBody = "Invalid CSRF token"

// Operation names double as rate-limit key prefixes and metric labels.
const (
	opCreatePoll = "create_poll"
	opUpdatePoll = "update_poll"
	opDeletePoll = "delete_poll"
	opVote       = "vote"
)

// gatekeeper runs the request-level guards in front of every poll operation:
// the CSRF check for state-changing methods, then the per-operation attempt
// limiter. A rejected request never reaches the store.
type gatekeeper struct {
	csrf    *csrf.Manager
	limiter *ratelimit.Limiter
}

// CSRF rejects unsafe methods whose X-CSRF-Token header does not match the
// caller's cookie. Public paths are exempt.
func (g *gatekeeper) CSRF(next http.Handler) http.Handler {
	if g == nil || g.csrf == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !g.csrf.Verify(r) {
			obs.ObserveCSRFRejection()
			_ = audit.LogEvent(r.Context(), "csrf.rejected", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			http.Error(w, csrfRejectedBody, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Throttle counts one attempt of operation against the caller. Signed-in
// callers are keyed by user id and anonymous ones by client IP, each under its
// own prefix so neither can spend the other's budget. Limiter failures let the
// request through.
func (g *gatekeeper) Throttle(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil || g.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.limiter.Check(r.Context(), throttleKey(r, operation))
			if err != nil {
				obs.Logger().WithFields(logrus.Fields{
					"request_id": RequestIDFromContext(r.Context()),
					"operation":  operation,
				}).WithError(err).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if d.Limited {
				obs.ObserveRateLimited(operation)
				_ = audit.LogEvent(r.Context(), "ratelimit.rejected", map[string]any{
					"operation": operation,
					"attempts":  d.Attempts,
				})
				retry := int(math.Ceil(d.RetryAfter(g.limiter.Now()).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, r, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func throttleKey(r *http.Request, operation string) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return operation + ":user:" + id
	}
	return operation + ":ip:" + clientIP(r)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}
