package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"pollhub.org/internal/auth"
	"pollhub.org/internal/csrf"
	"pollhub.org/internal/obs"
	"pollhub.org/internal/poll"
	"pollhub.org/internal/ratelimit"
)

const (
	serviceName     = "pollhub-api"
	maxRequestBytes = 1 << 20
)

// ReadyProbe pings the database and, when configured, Redis.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps carries the collaborators the HTTP layer is built from.
type Deps struct {
	Polls          *poll.Service
	Sessions       *auth.Sessions
	CSRF           *csrf.Manager
	Limiter        *ratelimit.Limiter
	Ready          readinessChecker
	Version        string
	AllowedOrigins []string
	FloodBurst     int
	FloodPerSecond int
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For/X-Real-IP. Enable
	// only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	router      chi.Router
	polls       *poll.Service
	sessions    *auth.Sessions
	csrf        *csrf.Manager
	gate        *gatekeeper
	readiness   readinessChecker
	version     string
	origins     []string
	floodBurst  int
	floodPerSec int
	trustProxy  bool
}

func New(d Deps) *API {
	a := &API{
		polls:       d.Polls,
		sessions:    d.Sessions,
		csrf:        d.CSRF,
		gate:        &gatekeeper{csrf: d.CSRF, limiter: d.Limiter},
		readiness:   d.Ready,
		version:     d.Version,
		origins:     d.AllowedOrigins,
		floodBurst:  d.FloodBurst,
		floodPerSec: d.FloodPerSecond,
		trustProxy:  d.TrustProxy,
	}
	if a.readiness == nil {
		a.readiness = ReadyProbe{}
	}
	if a.floodBurst <= 0 {
		a.floodBurst = 60
	}
	if a.floodPerSec <= 0 {
		a.floodPerSec = 30
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.gate.CSRF)
	r.Use(a.withSession)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	r.Get("/v1/csrf", a.issueCSRF)

	r.Route("/v1/polls", func(r chi.Router) {
		r.Get("/", a.listPolls)
		r.With(a.gate.Throttle(opCreatePoll)).Post("/", a.createPoll)
		r.Get("/mine", a.listMyPolls)
		r.Route("/{pollID}", func(r chi.Router) {
			r.Get("/", a.getPoll)
			r.Get("/results", a.pollResults)
			r.With(a.gate.Throttle(opUpdatePoll)).Put("/", a.updatePoll)
			r.With(a.gate.Throttle(opDeletePoll)).Delete("/", a.deletePoll)
			r.With(a.gate.Throttle(opVote)).Post("/votes", a.submitVote)
		})
	})

	a.router = r
	return a
}

// Handler returns the router wrapped in the process-wide middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = RateLimit(h, a.floodBurst, a.floodPerSec)
	h = MaxBodyBytes(h, maxRequestBytes)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	if a.trustProxy {
		h = middleware.RealIP(h)
	}
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
