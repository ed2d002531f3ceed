// Package auth guards the API with session tokens and implements the
// account flows behind /auth: login, registration, password reset and email
// confirmation.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/mail"
	"github.com/code-runner-lcs/api-template-go/metrics"
	"github.com/code-runner-lcs/api-template-go/ratelimit"
	"github.com/code-runner-lcs/api-template-go/token"
	"github.com/code-runner-lcs/api-template-go/users"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgUserExists         = "User already exists"
	msgTooManyAttempts    = "Too many login attempts, try again later"

	// Sent whether or not the address belongs to an account.
	msgResetRequested        = "If an account exists for this email, a password reset link has been sent"
	msgConfirmationRequested = "If this email needs confirming, a confirmation link has been sent"

	msgRegistered     = "User created successfully"
	msgPasswordReset  = "Password reset successfully"
	msgEmailConfirmed = "Email confirmed successfully"
	msgWelcomeFailed  = "Failed to send welcome email"
	msgConfirmFailed  = "Failed to send confirmation email"
)

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) bool
}

// TokenIssuer issues and verifies signed tokens.
type TokenIssuer interface {
	TokenVerifier
	Issue(subject token.Subject, ttl time.Duration) (string, error)
}

// Deps are the collaborators of a Service. Limiter and Metrics are optional.
type Deps struct {
	Store      users.Store
	Hasher     PasswordHasher
	Tokens     TokenIssuer
	Mailer     mail.Sender
	Limiter    ratelimit.Limiter
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
	SessionTTL time.Duration
	ActionTTL  time.Duration
}

// Service implements the account flows.
type Service struct {
	store      users.Store
	hasher     PasswordHasher
	tokens     TokenIssuer
	mailer     mail.Sender
	limiter    ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	sessionTTL time.Duration
	actionTTL  time.Duration
}

// NewService creates a Service. Zero TTLs fall back to token.SessionTTL and
// token.ActionTTL.
func NewService(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		hasher:     d.Hasher,
		tokens:     d.Tokens,
		mailer:     d.Mailer,
		limiter:    d.Limiter,
		metrics:    d.Metrics,
		logger:     d.Logger,
		sessionTTL: d.SessionTTL,
		actionTTL:  d.ActionTTL,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = token.SessionTTL
	}
	if s.actionTTL <= 0 {
		s.actionTTL = token.ActionTTL
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	email := normalizeEmail(req.Email)

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, email)
		if err != nil {
			s.logger.WithError(err).Warn("auth: login rate limiter unavailable")
		}
		if !allowed {
			s.countLogin(metrics.LoginRateLimited)
			return nil, apperror.NewTooManyRequestsError(msgTooManyAttempts, nil)
		}
	}

	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		s.countLogin(metrics.LoginFailure)
		return nil, apperror.NewInvalidCredentialsError(msgInvalidCredentials, nil)
	}
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to load user", err)
	}

	if !s.hasher.Verify(ctx, req.Password, user.PasswordHash) {
		s.countLogin(metrics.LoginFailure)
		return nil, apperror.NewInvalidCredentialsError(msgInvalidCredentials, nil)
	}

	raw, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, email); err != nil {
			s.logger.WithError(err).Warn("auth: failed to reset login attempts")
		}
	}
	s.countLogin(metrics.LoginSuccess)

	return &LoginResponse{Token: raw, User: IdentityFromUser(user)}, nil
}

// LoginRetryAfter returns how long a throttled client has to wait before
// trying email again. Zero when there is no limiter or the wait is unknown.
func (s *Service) LoginRetryAfter(ctx context.Context, email string) time.Duration {
	if s.limiter == nil {
		return 0
	}
	wait, err := s.limiter.RetryAfter(ctx, normalizeEmail(email))
	if err != nil {
		s.logger.WithError(err).Warn("auth: failed to read login rate limit window")
		return 0
	}
	return wait
}

// Register creates an account, signs the new user in and sends the welcome
// and confirmation mails. Mail failures do not undo the registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	_, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return nil, apperror.NewConflictError(msgUserExists, nil)
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, apperror.NewDatabaseError("failed to check for existing user", err)
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, apperror.NewInternalError("failed to hash password", err)
	}

	user, err := s.store.Create(ctx, name, email, hash)
	if errors.Is(err, users.ErrAlreadyExists) {
		return nil, apperror.NewConflictError(msgUserExists, err)
	}
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to create user", err)
	}

	raw, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}

	mailErrors := []string{}
	if err := s.mailer.SendWelcome(ctx, user.Email, user.Name); err != nil {
		s.mailFailed(mail.KindWelcome, err)
		mailErrors = append(mailErrors, msgWelcomeFailed)
	}
	if err := s.sendConfirmation(ctx, user); err != nil {
		s.mailFailed(mail.KindConfirmation, err)
		mailErrors = append(mailErrors, msgConfirmFailed)
	}

	return &RegisterResponse{
		Message:    msgRegistered,
		User:       IdentityFromUser(user),
		Token:      raw,
		MailErrors: mailErrors,
	}, nil
}

// AskPasswordReset mails a password reset link when to belongs to an account.
// The answer is the same either way.
func (s *Service) AskPasswordReset(ctx context.Context, to string) (*MessageResponse, error) {
	user, err := s.store.FindByEmail(ctx, normalizeEmail(to))
	if errors.Is(err, users.ErrNotFound) {
		return &MessageResponse{Message: msgResetRequested}, nil
	}
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to load user", err)
	}

	raw, err := s.tokens.Issue(token.Subject{
		ID:      user.ID,
		Email:   user.Email,
		Purpose: token.PurposePasswordReset,
	}, s.actionTTL)
	if err != nil {
		return nil, apperror.NewInternalError("failed to issue reset token", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, raw); err != nil {
		s.mailFailed(mail.KindPasswordReset, err)
	}
	return &MessageResponse{Message: msgResetRequested}, nil
}

// ResetPassword sets a new password for the holder of a password reset
// token. A token is refused once the account changed after it was issued, so
// each link works once.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*MessageResponse, error) {
	user, claims, err := s.userForActionToken(ctx, req.Token, token.PurposePasswordReset)
	if err != nil {
		return nil, err
	}
	if claims.IssuedAt.Before(user.UpdatedAt.Truncate(time.Second)) {
		return nil, apperror.NewUnauthorizedError(msgInvalidToken, nil)
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, apperror.NewInternalError("failed to hash password", err)
	}
	user.PasswordHash = hash
	if _, err := s.store.Save(ctx, user); err != nil {
		return nil, s.saveError(err)
	}
	return &MessageResponse{Message: msgPasswordReset}, nil
}

// RequestConfirmation mails a new confirmation link to an unconfirmed
// account. The answer is the same whether or not anything was sent.
func (s *Service) RequestConfirmation(ctx context.Context, to string) (*MessageResponse, error) {
	user, err := s.store.FindByEmail(ctx, normalizeEmail(to))
	if errors.Is(err, users.ErrNotFound) {
		return &MessageResponse{Message: msgConfirmationRequested}, nil
	}
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to load user", err)
	}
	if user.IsEmailConfirmed {
		return &MessageResponse{Message: msgConfirmationRequested}, nil
	}

	if err := s.sendConfirmation(ctx, user); err != nil {
		s.mailFailed(mail.KindConfirmation, err)
	}
	return &MessageResponse{Message: msgConfirmationRequested}, nil
}

// ConfirmEmail marks the holder of a confirmation token as confirmed.
// Confirming twice is not an error.
func (s *Service) ConfirmEmail(ctx context.Context, raw string) (*MessageResponse, error) {
	if raw == "" {
		return nil, apperror.NewBadRequestError(msgMissingToken, nil)
	}
	user, _, err := s.userForActionToken(ctx, raw, token.PurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}
	if user.IsEmailConfirmed {
		return &MessageResponse{Message: msgEmailConfirmed}, nil
	}

	user.IsEmailConfirmed = true
	if _, err := s.store.Save(ctx, user); err != nil {
		return nil, s.saveError(err)
	}
	return &MessageResponse{Message: msgEmailConfirmed}, nil
}

func (s *Service) issueSession(user *users.User) (string, error) {
	raw, err := s.tokens.Issue(token.Subject{ID: user.ID, Email: user.Email}, s.sessionTTL)
	if err != nil {
		return "", apperror.NewInternalError("failed to issue session token", err)
	}
	return raw, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *users.User) error {
	raw, err := s.tokens.Issue(token.Subject{
		ID:      user.ID,
		Email:   user.Email,
		Purpose: token.PurposeEmailConfirmation,
	}, s.actionTTL)
	if err != nil {
		return err
	}
	return s.mailer.SendConfirmation(ctx, user.Email, user.Name, raw)
}

// userForActionToken verifies raw as a token of the given purpose and loads
// the account it was issued to.
func (s *Service) userForActionToken(ctx context.Context, raw string, purpose token.Purpose) (*users.User, *token.Claims, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, nil, apperror.NewUnauthorizedError(msgInvalidToken, err)
	}
	if claims.Purpose != purpose {
		return nil, nil, apperror.NewUnauthorizedError(msgInvalidToken, nil)
	}

	user, err := s.store.FindByEmail(ctx, claims.Email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, nil, apperror.NewUnauthorizedError(msgUserNotFound, nil)
	}
	if err != nil {
		return nil, nil, apperror.NewDatabaseError("failed to load user", err)
	}
	if user.ID != claims.ID {
		return nil, nil, apperror.NewUnauthorizedError(msgUserNotFound, nil)
	}
	return user, claims, nil
}

func (s *Service) saveError(err error) error {
	switch {
	case errors.Is(err, users.ErrNotFound):
		return apperror.NewUnauthorizedError(msgUserNotFound, err)
	case errors.Is(err, users.ErrAlreadyExists):
		return apperror.NewConflictError(msgUserExists, err)
	default:
		return apperror.NewDatabaseError("failed to save user", err)
	}
}

func (s *Service) mailFailed(kind mail.Kind, err error) {
	s.logger.WithError(err).WithField("kind", kind).Error("auth: failed to send mail")
	if s.metrics != nil {
		s.metrics.MailFailures.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Service) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}
