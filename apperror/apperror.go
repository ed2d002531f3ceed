// Package apperror defines a centralized system for application-specific errors.
// Every error that reaches an HTTP handler is either an *AppError, which carries
// its own category and client-safe message, or an unexpected error that is
// reported to the client as a generic internal failure.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an application error. The category alone decides
// the HTTP status code of the response.
type ErrorType int

const (
	// UnknownError is for unspecified errors
	UnknownError ErrorType = iota
	// DatabaseError represents an error originating from the user store
	DatabaseError
	// ConfigError represents an error related to application configuration
	ConfigError
	// InvalidCredentialsError is a failed login. It deliberately does not say
	// whether the email or the password was wrong.
	InvalidCredentialsError
	// UnauthorizedError is a missing, invalid or expired token, or a token
	// whose user no longer exists
	UnauthorizedError
	// NotFoundError represents a resource not found error
	NotFoundError
	// ValidationError represents an input validation error
	ValidationError
	// BadRequestError represents a generic bad request
	BadRequestError
	// InternalError represents a generic internal server error
	InternalError
	// ExternalServiceError represents an error from an external service (SMTP, Redis)
	ExternalServiceError
	// MigrationError represents an error during database migrations
	MigrationError
	// ConflictError represents a duplicate resource, e.g. an email that is already registered
	ConflictError
	// TooManyRequestsError is returned when a rate limit rejects the request
	TooManyRequestsError
)

// AppError is a custom error type for the application.
// Message is what the client sees; Err is the underlying cause and is only logged.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error // Underlying error
}

// Error returns the string representation of the error, satisfying the `error` interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error so errors.Is and errors.As can walk the chain.
func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code appropriate for the error type
func (e *AppError) StatusCode() int {
	switch e.Type {
	case DatabaseError, ConfigError, InternalError, MigrationError:
		return http.StatusInternalServerError
	case InvalidCredentialsError, UnauthorizedError:
		return http.StatusUnauthorized
	case NotFoundError:
		return http.StatusNotFound
	case ValidationError, BadRequestError:
		return http.StatusBadRequest
	case ConflictError:
		// Duplicate registrations are reported as a plain bad request.
		return http.StatusBadRequest
	case ExternalServiceError:
		return http.StatusBadGateway
	case TooManyRequestsError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsServerError reports whether the error maps to a 5xx status. Those are logged
// with their cause and answered with a generic message.
func (e *AppError) IsServerError() bool {
	return e.StatusCode() >= http.StatusInternalServerError
}

// NewAppError creates a new AppError. This is a generic constructor.
func NewAppError(errType ErrorType, message string, underlyingError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     underlyingError,
	}
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(message string, underlyingError error) *AppError {
	return NewAppError(DatabaseError, message, underlyingError)
}

// NewConfigError creates a new ConfigError
func NewConfigError(message string, underlyingError error) *AppError {
	return NewAppError(ConfigError, message, underlyingError)
}

// NewInvalidCredentialsError creates a new InvalidCredentialsError
func NewInvalidCredentialsError(message string, underlyingError error) *AppError {
	return NewAppError(InvalidCredentialsError, message, underlyingError)
}

// NewUnauthorizedError creates a new UnauthorizedError
func NewUnauthorizedError(message string, underlyingError error) *AppError {
	return NewAppError(UnauthorizedError, message, underlyingError)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(message string, underlyingError error) *AppError {
	return NewAppError(NotFoundError, message, underlyingError)
}

// NewValidationError creates a new ValidationError
func NewValidationError(message string, underlyingError error) *AppError {
	return NewAppError(ValidationError, message, underlyingError)
}

// NewBadRequestError creates a new BadRequestError
func NewBadRequestError(message string, underlyingError error) *AppError {
	return NewAppError(BadRequestError, message, underlyingError)
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, underlyingError error) *AppError {
	return NewAppError(InternalError, message, underlyingError)
}

// NewExternalServiceError creates a new ExternalServiceError
func NewExternalServiceError(message string, underlyingError error) *AppError {
	return NewAppError(ExternalServiceError, message, underlyingError)
}

// NewMigrationError creates a new MigrationError
func NewMigrationError(message string, underlyingError error) *AppError {
	return NewAppError(MigrationError, message, underlyingError)
}

// NewConflictError creates a new ConflictError
func NewConflictError(message string, underlyingError error) *AppError {
	return NewAppError(ConflictError, message, underlyingError)
}

// NewTooManyRequestsError creates a new TooManyRequestsError
func NewTooManyRequestsError(message string, underlyingError error) *AppError {
	return NewAppError(TooManyRequestsError, message, underlyingError)
}

// ErrorResponse represents a generic error response payload for API clients.
type ErrorResponse struct {
	Error string `json:"error" example:"A description of the error"`
}

// ToResponse converts an AppError to an ErrorResponse suitable for API responses.
// Only Message is exposed; the wrapped cause never leaves the process.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message}
}

// FromError attempts to convert a generic error to an *AppError.
// Wrapped AppErrors are found as well.
func FromError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err is an AppError of the given type.
func Is(err error, errType ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == errType
}
