package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/auth"
	"github.com/code-runner-lcs/api-template-go/logging"
	"github.com/code-runner-lcs/api-template-go/metrics"
)

// Deps is everything New needs. Metrics and Gatherer are optional; without a
// Gatherer GET /metrics is not served.
type Deps struct {
	Logger         *logrus.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Gate           *auth.Gate
	Loader         *Loader
}

// New builds the application handler. Global middleware runs in this order:
// request id, real ip, access log, panic recovery, metrics, CORS, then the
// request gate in front of every route.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(d.Logger))
	r.Use(recoverer(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: !allowsAnyOrigin(d.AllowedOrigins),
		MaxAge:           300,
	}))
	r.Use(d.Gate.Handler)

	// Set before mounting so providers inherit it.
	r.NotFound(notFound)

	r.Get("/", home)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	if d.Loader != nil {
		d.Loader.Mount(r)
	}
	return r
}

func home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("API template"))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	auth.WriteError(w, r, apperror.NewNotFoundError("Not found", nil))
}

// recoverer turns a panic into a logged 500 with the usual JSON error body.
func recoverer(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logging.FromRequest(logger, r).WithField("panic", rvr).Error("router: recovered from panic")
				auth.WriteError(w, r, apperror.NewInternalError("internal server error", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// With a wildcard origin browsers refuse credentialed requests anyway.
func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
