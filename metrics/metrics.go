// Package metrics defines the Prometheus collectors of the API and the
// handler that exposes them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate outcomes, used as the "outcome" label of GateDecisions.
const (
	OutcomePreflight    = "preflight"
	OutcomePublic       = "public"
	OutcomeMissingToken = "missing_token"
	OutcomeInvalidToken = "invalid_token"
	OutcomeExpiredToken = "expired_token"
	OutcomeUserNotFound = "user_not_found"
	OutcomeLookupFailed = "lookup_failed"
	OutcomeAuthorized   = "authorized"
)

// Login results, used as the "result" label of LoginAttempts.
const (
	LoginSuccess     = "success"
	LoginFailure     = "invalid_credentials"
	LoginRateLimited = "rate_limited"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	GateDecisions *prometheus.CounterVec
	LoginAttempts *prometheus.CounterVec

	// Mail metrics
	MailFailures *prometheus.CounterVec
}

// New creates all collectors and registers them on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_auth_gate_decisions_total",
				Help: "Decisions taken by the request gate, by outcome",
			},
			[]string{"outcome"},
		),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_auth_login_attempts_total",
				Help: "Login attempts, by result",
			},
			[]string{"result"},
		),
		MailFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_mail_failures_total",
				Help: "Mails that could not be delivered, by kind",
			},
			[]string{"kind"},
		),
	}

	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisions,
		m.LoginAttempts,
		m.MailFailures,
	)
	return m
}

// NewNop returns collectors registered nowhere, for tests and tools that do
// not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the metrics gathered by gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations labelled with the chi
// route pattern rather than the raw path, which keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
