// Package logging builds the application logger. One *logrus.Logger is created
// at startup and handed to every component that needs to log.
package logging

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/config"
)

// New creates a logger from the log configuration. An unknown level falls back
// to info so a typo in LOG_LEVEL never prevents startup.
func New(cfg *config.LogConfig, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)

	if cfg != nil && cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level := logrus.InfoLevel
	if cfg != nil {
		if parsed, err := logrus.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	return logger
}

// Discard returns a logger that drops everything. Used by tests and by
// commands that have nothing to report.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// RequestLogger returns chi's access-log middleware writing through logger.
func RequestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logger,
		NoColor: true,
	})
}

// FromRequest returns a log entry carrying the request id, method and path.
func FromRequest(logger *logrus.Logger, r *http.Request) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}
