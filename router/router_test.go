package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/code-runner-lcs/api-template-go/auth"
	"github.com/code-runner-lcs/api-template-go/credential"
	"github.com/code-runner-lcs/api-template-go/logging"
	"github.com/code-runner-lcs/api-template-go/metrics"
	"github.com/code-runner-lcs/api-template-go/profile"
	"github.com/code-runner-lcs/api-template-go/routes"
	"github.com/code-runner-lcs/api-template-go/token"
	"github.com/code-runner-lcs/api-template-go/users"
)

type nopMailer struct{}

func (nopMailer) SendWelcome(context.Context, string, string) error              { return nil }
func (nopMailer) SendConfirmation(context.Context, string, string, string) error { return nil }
func (nopMailer) SendPasswordReset(context.Context, string, string) error        { return nil }

type staticProvider struct {
	body string
}

func (p *staticProvider) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(p.body))
	})
	return r
}

func TestLoader_Register(t *testing.T) {
	l := NewLoader(logging.Discard())

	require.NoError(t, l.Register("Auth", &staticProvider{}))
	assert.Error(t, l.Register("auth", &staticProvider{}), "names are case-insensitive")
	assert.Error(t, l.Register("", &staticProvider{}))
	assert.Error(t, l.Register("a/b", &staticProvider{}))

	require.NoError(t, l.Register("missing", nil))
	var typedNil *staticProvider
	require.NoError(t, l.Register("typed", typedNil))

	assert.Equal(t, []string{"/auth"}, l.Mount(chi.NewRouter()))
}

func TestLoader_MountIsOrderIndependent(t *testing.T) {
	mount := func(names ...string) ([]string, *chi.Mux) {
		l := NewLoader(logging.Discard())
		for _, n := range names {
			require.NoError(t, l.Register(n, &staticProvider{body: n}))
		}
		r := chi.NewRouter()
		return l.Mount(r), r
	}

	first, r1 := mount("Users", "Auth", "Posts")
	second, r2 := mount("Posts", "Users", "Auth")
	assert.Equal(t, []string{"/auth", "/posts", "/users"}, first)
	assert.Equal(t, first, second)

	for _, r := range []*chi.Mux{r1, r2} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
		assert.Equal(t, "Users", rec.Body.String())
	}
}

func newTestHandler(t *testing.T) (http.Handler, *prometheus.Registry) {
	t.Helper()
	logger := logging.Discard()
	store := users.NewMemoryStore()

	hasher, err := credential.NewHasher(bcrypt.MinCost, 0)
	require.NoError(t, err)
	tokens, err := token.NewService([]byte("router-test-secret"))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	service := auth.NewService(auth.Deps{
		Store:   store,
		Hasher:  hasher,
		Tokens:  tokens,
		Mailer:  nopMailer{},
		Metrics: m,
		Logger:  logger,
	})

	loader := NewLoader(logger)
	require.NoError(t, loader.Register("Auth", auth.NewHandlers(service, logger)))
	require.NoError(t, loader.Register("Users", profile.NewHandlers(store, logger)))

	h := New(Deps{
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
		AllowedOrigins: []string{"http://localhost:3000"},
		Gate:           auth.NewGate(routes.MustNewMatcher(routes.DefaultPublicRules()), tokens, store, logger, m),
		Loader:         loader,
	})
	return h, registry
}

func TestNew_EndToEnd(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "API template", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing token"}`, rec.Body.String())

	body := `{"name":"Ada","email":"ada@example.com","password":"longenough1"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var registered auth.RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ada"`)

	for _, path := range []string{"/nowhere", "/users/nowhere"} {
		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+registered.Token)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String(), path)
	}
}

func TestNew_Preflight(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/users/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_MetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	// One rejected request so the gate counter has a series.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/me", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `api_auth_gate_decisions_total{outcome="missing_token"} 1`)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}
