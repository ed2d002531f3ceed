// Package token issues and verifies the signed bearer tokens used for sessions
// and for one-shot action links (password reset, email confirmation).
//
// Tokens are HS256 JWTs signed with one process-wide secret. They carry no
// server-side state: a token is valid when its signature checks out and the
// current time is strictly before its expiry.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SessionTTL is the validity of a login session.
	SessionTTL = 30 * 24 * time.Hour
	// ActionTTL is the validity of password reset and confirmation links.
	ActionTTL = time.Hour

	defaultIssuer = "api-template"
)

var (
	// ErrMalformed covers every token that cannot be trusted: bad encoding,
	// wrong signature or algorithm, missing claims, wrong issuer.
	ErrMalformed = errors.New("token is malformed")
	// ErrExpired is returned for a well-formed token whose expiry has passed.
	ErrExpired = errors.New("token has expired")
)

// Purpose restricts what a token may be used for.
type Purpose string

const (
	// PurposeSession is the default purpose; only session tokens authenticate API requests.
	PurposeSession Purpose = ""
	// PurposePasswordReset tokens may only be spent on a password reset.
	PurposePasswordReset Purpose = "password_reset"
	// PurposeEmailConfirmation tokens may only be spent confirming an email address.
	PurposeEmailConfirmation Purpose = "email_confirmation"
)

// Subject is who a token is issued for.
type Subject struct {
	ID      int64
	Email   string
	Purpose Purpose
}

// Claims is the verified content of a token.
type Claims struct {
	Subject
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// jwtClaims is the wire form of a token payload.
type jwtClaims struct {
	UserID  int64   `json:"id"`
	Email   string  `json:"email"`
	Purpose Purpose `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIssuer sets the iss claim written and required by the service.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// Service signs and verifies tokens. It is safe for concurrent use; nothing
// in it changes after construction.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewService creates a Service signing with secret.
func NewService(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}

	s := &Service{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	s.parser = jwt.NewParser(parserOpts...)

	return s, nil
}

// Issue signs a token for subject valid for ttl from now. Timestamps are
// whole seconds: the issuance time is the current time truncated to the
// second, and the token verifies strictly before that time plus ttl. A token
// issued at 12:00:00.900 with a one hour ttl therefore expires at 13:00:00.
func (s *Service) Issue(subject Subject, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	issuedAt := s.now().Truncate(time.Second)
	claims := jwtClaims{
		UserID:  subject.ID,
		Email:   subject.Email,
		Purpose: subject.Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns its claims.
// The error is ErrExpired or wraps ErrMalformed.
func (s *Service) Verify(raw string) (*Claims, error) {
	var claims jwtClaims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.UserID == 0 || claims.Email == "" {
		return nil, fmt.Errorf("%w: id and email claims are required", ErrMalformed)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: iat claim is required", ErrMalformed)
	}
	// The parser already enforces expiry; this keeps "now >= exp" exact
	// regardless of how the library compares instants.
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}

	return &Claims{
		Subject: Subject{
			ID:      claims.UserID,
			Email:   claims.Email,
			Purpose: claims.Purpose,
		},
		TokenID:   claims.RegisteredClaims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
