package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/code-runner-lcs/api-template-go/config"
	"github.com/code-runner-lcs/api-template-go/logging"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Auth: &config.AuthConfig{
			JWTSecret:       "server-test-secret",
			SessionTokenTTL: time.Hour,
			ActionTokenTTL:  time.Minute,
			BcryptCost:      bcrypt.MinCost,
		},
		Server:   &config.ServerConfig{Port: "0", AllowedOrigins: []string{"*"}},
		Database: &config.DatabaseConfig{},
		Mail:     &config.MailConfig{FrontendURL: "http://localhost:3000"},
		Redis:    &config.RedisConfig{LoginRateLimit: 10, LoginRateWindow: time.Minute},
		Log:      &config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestBuild_DevelopmentDefaults(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBuild_ExtraPublicRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public.yaml")
	require.NoError(t, os.WriteFile(path, []byte("public_routes:\n  - method: GET\n    path: /users/me\n"), 0o600))

	cfg := testConfig()
	cfg.Auth.PublicRoutesFile = path
	app, err := Build(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	// The gate lets the request through; the handler itself finds no identity.
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing token"}`, rec.Body.String())

	cfg.Auth.PublicRoutesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Build(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestBuild_LogsStartupSummary(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	app, err := Build(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer app.Close()

	var routesLogged, costLogged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "8 public routes, every other route needs a session" {
			routesLogged = true
		}
		if e.Data["cost"] == bcrypt.MinCost {
			costLogged = true
		}
	}
	assert.True(t, routesLogged)
	assert.True(t, costLogged)
}

func TestBuild_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	app, err := Build(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close()
	assert.Len(t, app.closers, 1)
}

func TestBuild_UnreachableRedisIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	app, err := Build(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	app.Close()
}

func TestBuild_InvalidCost(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.BcryptCost = 99
	_, err := Build(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, logging.Discard()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_ReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	err = serve(context.Background(), srv, logging.Discard())
	assert.Error(t, err)
}
