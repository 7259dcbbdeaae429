package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"pollhub.org/internal/auth"
)

const (
	authHeader        = "Authorization"
	bearer            = "Bearer "
	sessionCookieName = "session"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/csrf",
}

// withSession resolves the caller from a bearer token or the session cookie.
// No credentials means anonymous; bad credentials are rejected outright.
func (a *API) withSession(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := sessionToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.sessions.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid session")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken prefers the Authorization header over the cookie. An empty
// token with a nil error means no credentials were presented.
func sessionToken(r *http.Request) (string, error) {
	if h := r.Header.Get(authHeader); h != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(c.Value), nil
	}
	return "", nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
