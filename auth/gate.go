package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/logging"
	"github.com/code-runner-lcs/api-template-go/metrics"
	"github.com/code-runner-lcs/api-template-go/token"
	"github.com/code-runner-lcs/api-template-go/users"
)

// Messages sent by the gate. Expired and invalid tokens share one message so
// clients cannot tell them apart.
const (
	msgMissingToken = "missing token"
	msgInvalidToken = "Token invalid or expired"
	msgUserNotFound = "User not found"
)

// PublicMatcher reports whether a request may skip authentication.
type PublicMatcher interface {
	IsPublic(method, path string) bool
}

// TokenVerifier checks a raw bearer token.
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// UserFinder resolves the user a token was issued to.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

// Gate is the middleware in front of every route. Public routes and CORS
// pre-flight requests pass through; everything else needs a valid session
// token whose user still exists.
type Gate struct {
	public  PublicMatcher
	tokens  TokenVerifier
	users   UserFinder
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewGate creates a Gate. m may be nil.
func NewGate(public PublicMatcher, tokens TokenVerifier, finder UserFinder, logger *logrus.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		public:  public,
		tokens:  tokens,
		users:   finder,
		logger:  logger,
		metrics: m,
	}
}

// Handler wraps next.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			g.count(metrics.OutcomePreflight)
			next.ServeHTTP(w, r)
			return
		}
		if g.public.IsPublic(r.Method, r.URL.Path) {
			g.count(metrics.OutcomePublic)
			next.ServeHTTP(w, r)
			return
		}

		log := logging.FromRequest(g.logger, r)

		raw := bearerToken(r)
		if raw == "" {
			g.reject(w, r, log, metrics.OutcomeMissingToken, msgMissingToken)
			return
		}

		claims, err := g.tokens.Verify(raw)
		switch {
		case errors.Is(err, token.ErrExpired):
			g.reject(w, r, log, metrics.OutcomeExpiredToken, msgInvalidToken)
			return
		case err != nil:
			log.WithError(err).Debug("auth: rejecting invalid token")
			g.reject(w, r, log, metrics.OutcomeInvalidToken, msgInvalidToken)
			return
		case claims.Purpose != token.PurposeSession:
			log.WithField("purpose", claims.Purpose).Debug("auth: rejecting action token used as session")
			g.reject(w, r, log, metrics.OutcomeInvalidToken, msgInvalidToken)
			return
		}

		user, err := g.users.FindByEmail(r.Context(), claims.Email)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			g.count(metrics.OutcomeLookupFailed)
			log.WithError(err).Error("auth: user lookup failed")
			WriteError(w, r, apperror.NewDatabaseError("failed to load user", err))
			return
		}
		if err != nil || user.ID != claims.ID {
			g.reject(w, r, log, metrics.OutcomeUserNotFound, msgUserNotFound)
			return
		}

		g.count(metrics.OutcomeAuthorized)
		ctx := NewContextWithIdentity(r.Context(), IdentityFromUser(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, log *logrus.Entry, outcome, message string) {
	g.count(outcome)
	log.WithField("reason", outcome).Info("auth: request rejected")
	WriteError(w, r, apperror.NewUnauthorizedError(message, nil))
}

func (g *Gate) count(outcome string) {
	if g.metrics != nil {
		g.metrics.GateDecisions.WithLabelValues(outcome).Inc()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Any other shape yields "".
func bearerToken(r *http.Request) string {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}
