package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.GateDecisions.WithLabelValues(OutcomeAuthorized).Inc()
	m.LoginAttempts.WithLabelValues(LoginSuccess).Inc()
	m.MailFailures.WithLabelValues("welcome").Inc()

	count, err := testutil.GatherAndCount(registry,
		"api_auth_gate_decisions_total",
		"api_auth_login_attempts_total",
		"api_mail_failures_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Panics(t, func() { New(registry) }, "registering twice must fail")
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := NewNop()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/users/{id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandler_ServesTextFormat(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.GateDecisions.WithLabelValues(OutcomeMissingToken).Add(2)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `api_auth_gate_decisions_total{outcome="missing_token"} 2`)
}
