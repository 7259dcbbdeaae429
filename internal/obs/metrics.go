package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	csrfRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csrf_rejections_total",
		Help: "Mutating requests rejected for a missing or invalid CSRF token.",
	})

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the fixed-window limiter, by operation.",
		},
		[]string{"operation"},
	)

	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Vote submissions by outcome.",
		},
		[]string{"result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service dependencies answered the last readiness probe.",
	})

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			csrfRejections, rateLimited, votesTotal, readyGauge,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCSRFRejection counts one request refused by the CSRF check.
func ObserveCSRFRejection() { csrfRejections.Inc() }

// ObserveRateLimited counts one request refused by the limiter for operation.
func ObserveRateLimited(operation string) { rateLimited.WithLabelValues(operation).Inc() }

// ObserveVote counts a vote submission outcome ("accepted", "duplicate", "invalid", ...).
func ObserveVote(result string) { votesTotal.WithLabelValues(result).Inc() }

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses poll identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	const prefix = "/v1/polls/"
	if !strings.HasPrefix(raw, prefix) {
		return raw
	}
	rest := strings.Trim(strings.TrimPrefix(raw, prefix), "/")
	parts := strings.Split(rest, "/")
	switch {
	case rest == "" || rest == "mine":
		return raw
	case len(parts) == 1:
		return prefix + ":id"
	case len(parts) == 2 && (parts[1] == "votes" || parts[1] == "results"):
		return prefix + ":id/" + parts[1]
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
