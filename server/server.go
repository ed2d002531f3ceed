// Package server wires every component from configuration and runs the
// HTTP server until its context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/auth"
	"github.com/code-runner-lcs/api-template-go/config"
	"github.com/code-runner-lcs/api-template-go/credential"
	"github.com/code-runner-lcs/api-template-go/db"
	"github.com/code-runner-lcs/api-template-go/mail"
	"github.com/code-runner-lcs/api-template-go/metrics"
	"github.com/code-runner-lcs/api-template-go/profile"
	"github.com/code-runner-lcs/api-template-go/ratelimit"
	"github.com/code-runner-lcs/api-template-go/router"
	"github.com/code-runner-lcs/api-template-go/routes"
	"github.com/code-runner-lcs/api-template-go/token"
	"github.com/code-runner-lcs/api-template-go/users"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled application.
type App struct {
	Handler http.Handler
	closers []func()
}

// Close releases the connections opened by Build, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build creates every component described by cfg. Postgres, SMTP and Redis
// are optional: without them users live in memory, mails go to the log and
// logins are not rate limited.
func Build(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger) (*App, error) {
	app := &App{}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	store, err := openStore(ctx, cfg.Database, logger, app)
	if err != nil {
		return fail(err)
	}

	mailer, err := mail.NewMailer(newTransport(ctx, cfg.Mail, logger), cfg.Mail.FrontendURL, cfg.Auth.ActionTokenTTL)
	if err != nil {
		return fail(fmt.Errorf("failed to build mailer: %w", err))
	}

	rules := routes.DefaultPublicRules()
	if cfg.Auth.PublicRoutesFile != "" {
		extra, err := routes.LoadRulesFile(cfg.Auth.PublicRoutesFile)
		if err != nil {
			return fail(err)
		}
		rules = append(rules, extra...)
		logger.WithField("file", cfg.Auth.PublicRoutesFile).Infof("loaded %d extra public routes", len(extra))
	}
	matcher, err := routes.NewMatcher(rules)
	if err != nil {
		return fail(err)
	}
	logger.Infof("%d public routes, every other route needs a session", matcher.Len())

	hasher, err := credential.NewHasher(cfg.Auth.BcryptCost, 0)
	if err != nil {
		return fail(err)
	}
	logger.WithField("cost", hasher.Cost()).Debug("password hasher ready")
	tokens, err := token.NewService([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fail(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	service := auth.NewService(auth.Deps{
		Store:      store,
		Hasher:     hasher,
		Tokens:     tokens,
		Mailer:     mailer,
		Limiter:    openLimiter(ctx, cfg.Redis, logger, app),
		Metrics:    m,
		Logger:     logger,
		SessionTTL: cfg.Auth.SessionTokenTTL,
		ActionTTL:  cfg.Auth.ActionTokenTTL,
	})

	loader := router.NewLoader(logger)
	if err := loader.Register("Auth", auth.NewHandlers(service, logger)); err != nil {
		return fail(err)
	}
	if err := loader.Register("Users", profile.NewHandlers(store, logger)); err != nil {
		return fail(err)
	}

	app.Handler = router.New(router.Deps{
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gate:           auth.NewGate(matcher, tokens, store, logger, m),
		Loader:         loader,
	})
	return app, nil
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *logrus.Logger, app *App) (users.Store, error) {
	if !cfg.Enabled() {
		logger.Warn("DB_NAME is not set, users are kept in memory and lost on restart")
		return users.NewMemoryStore(), nil
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)

	sqlDB := db.OpenSQL(pool)
	app.closers = append(app.closers, func() { sqlDB.Close() })

	logger.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.DBName}).Info("connected to postgres")
	return users.NewPostgresStore(sqlDB), nil
}

func newTransport(ctx context.Context, cfg *config.MailConfig, logger *logrus.Logger) mail.Transport {
	if !cfg.Enabled() {
		logger.Warn("SMTP_HOST is not set, mails are written to the log")
		return &mail.LogTransport{Logger: logger}
	}

	t := &mail.SMTPTransport{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
	}
	// An unreachable server is reported but not fatal; mail failures are
	// handled per message.
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := t.Verify(verifyCtx); err != nil {
		logger.WithError(err).Warn("SMTP server check failed")
	} else {
		logger.WithField("host", cfg.Host).Info("SMTP server is ready")
	}
	return t
}

func openLimiter(ctx context.Context, cfg *config.RedisConfig, logger *logrus.Logger, app *App) ratelimit.Limiter {
	if !cfg.Enabled() {
		logger.Info("REDIS_URL is not set, login attempts are not rate limited")
		return nil
	}

	client, err := ratelimit.NewClient(ctx, cfg.URL)
	if err != nil {
		logger.WithError(err).Warn("login rate limiting disabled")
		return nil
	}
	app.closers = append(app.closers, func() { client.Close() })
	return ratelimit.NewRedisLimiter(client, cfg.LoginRateLimit, cfg.LoginRateWindow, "login")
}

// Run serves the application on cfg.Server.Port until ctx is cancelled, then
// shuts down gracefully.
func Run(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger) error {
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, logger)
}

func serve(ctx context.Context, srv *http.Server, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
