package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/logging"
)

const (
	maxBodyBytes = 1 << 20
	msgInternal  = "Internal server error"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handlers serves the /auth routes.
type Handlers struct {
	service *Service
	logger  *logrus.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service, logger *logrus.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// Routes returns the /auth sub-router. Everything but /me is public.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.HandleLogin())
	r.Post("/register", h.HandleRegister())
	r.Get("/me", h.HandleMe())
	r.Post("/ask-password-reset", h.HandleAskPasswordReset())
	r.Post("/reset-password", h.HandleResetPassword())
	r.Post("/confirmation", h.HandleConfirmation())
	r.Get("/confirm-email", h.HandleConfirmEmail())
	return r
}

// HandleLogin godoc
// @Summary User Login
// @Description Checks email and password and returns a session token.
// @Tags Auth
// @Accept json
// @Produce json
// @Param loginBody body auth.LoginRequest true "User login credentials"
// @Success 200 {object} auth.LoginResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse "Invalid credentials"
// @Failure 429 {object} apperror.ErrorResponse "Too many attempts; Retry-After gives the wait in seconds"
// @Router /auth/login [post]
func (h *Handlers) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		resp, err := h.service.Login(r.Context(), req)
		if apperror.Is(err, apperror.TooManyRequestsError) {
			if wait := h.service.LoginRetryAfter(r.Context(), req.Email); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleRegister godoc
// @Summary User Registration
// @Description Creates an account, returns a session token and sends the welcome and confirmation mails.
// @Tags Auth
// @Accept json
// @Produce json
// @Param registerBody body auth.RegisterRequest true "User registration details"
// @Success 200 {object} auth.RegisterResponse
// @Failure 400 {object} apperror.ErrorResponse "Invalid input or user already exists"
// @Router /auth/register [post]
func (h *Handlers) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		resp, err := h.service.Register(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleMe godoc
// @Summary Current user
// @Tags Auth
// @Produce json
// @Success 200 {object} auth.Identity
// @Failure 401 {object} apperror.ErrorResponse
// @Router /auth/me [get]
// @Security BearerAuth
func (h *Handlers) HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			h.fail(w, r, apperror.NewUnauthorizedError(msgMissingToken, nil))
			return
		}
		WriteJSON(w, http.StatusOK, id)
	}
}

// HandleAskPasswordReset godoc
// @Summary Request a password reset link
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body auth.EmailRequest true "Account email"
// @Success 200 {object} auth.MessageResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Router /auth/ask-password-reset [post]
func (h *Handlers) HandleAskPasswordReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if err := DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		resp, err := h.service.AskPasswordReset(r.Context(), req.To)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body auth.ResetPasswordRequest true "Reset token and new password"
// @Success 200 {object} auth.MessageResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse "Token invalid or expired"
// @Router /auth/reset-password [post]
func (h *Handlers) HandleResetPassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResetPasswordRequest
		if err := DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		resp, err := h.service.ResetPassword(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleConfirmation godoc
// @Summary Send a new email confirmation link
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body auth.EmailRequest true "Account email"
// @Success 200 {object} auth.MessageResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Router /auth/confirmation [post]
func (h *Handlers) HandleConfirmation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if err := DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		resp, err := h.service.RequestConfirmation(r.Context(), req.To)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleConfirmEmail godoc
// @Summary Confirm an email address
// @Tags Auth
// @Produce json
// @Param token query string true "Confirmation token"
// @Success 200 {object} auth.MessageResponse
// @Failure 400 {object} apperror.ErrorResponse "missing token"
// @Failure 401 {object} apperror.ErrorResponse "Token invalid or expired"
// @Router /auth/confirm-email [get]
func (h *Handlers) HandleConfirmEmail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.service.ConfirmEmail(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	LogError(h.logger, r, err)
	WriteError(w, r, err)
}

// DecodeJSON reads the request body into dst and validates it against its
// `validate` tags. Errors are ready to pass to WriteError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.NewBadRequestError("request body is empty", err)
		}
		return apperror.NewBadRequestError("invalid request body", err)
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return apperror.NewValidationError(describeValidation(fieldErrs), err)
		}
		return apperror.NewValidationError("invalid request body", err)
	}
	return nil
}

func describeValidation(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// WriteJSON serializes data and writes it with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil { // Avoid writing nil, which can result in "null" response body
		// The header is already out; an encoding failure can only be dropped.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes err as an {"error": ...} body. Server errors and errors
// that are not AppErrors are answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.FromError(err)
	if !ok {
		appErr = apperror.NewInternalError(msgInternal, err)
	}
	if appErr.IsServerError() {
		WriteJSON(w, appErr.StatusCode(), apperror.ErrorResponse{Error: msgInternal})
		return
	}
	WriteJSON(w, appErr.StatusCode(), appErr.ToResponse())
}

// LogError logs err with the request's fields when it will be answered with
// a 5xx status.
func LogError(logger *logrus.Logger, r *http.Request, err error) {
	appErr, ok := apperror.FromError(err)
	if ok && !appErr.IsServerError() {
		return
	}
	logging.FromRequest(logger, r).WithError(err).Error("request failed")
}
