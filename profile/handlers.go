// Package profile serves /users, where an authenticated user reads and
// edits their own account.
package profile

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/auth"
	"github.com/code-runner-lcs/api-template-go/users"
)

// Handlers provides HTTP handlers for profile management.
type Handlers struct {
	store  users.Store
	logger *logrus.Logger
}

// NewHandlers creates new Handlers.
func NewHandlers(store users.Store, logger *logrus.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// Routes returns the /users sub-router. Every route needs a session.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.HandleGetProfile())
	r.Patch("/me", h.HandleUpdateProfile())
	return r
}

// HandleGetProfile godoc
// @Summary Get current user's profile
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProfileResponse
// @Failure 401 {object} apperror.ErrorResponse "Unauthorized - Invalid or missing token"
// @Router /users/me [get]
func (h *Handlers) HandleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, newProfileResponse(user))
	}
}

// HandleUpdateProfile godoc
// @Summary Update current user's profile
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userProfile body UpdateProfileRequest true "Fields to update"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} apperror.ErrorResponse "Bad Request - Invalid input data"
// @Failure 401 {object} apperror.ErrorResponse "Unauthorized - Invalid or missing token"
// @Router /users/me [patch]
func (h *Handlers) HandleUpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProfileRequest
		if err := auth.DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		if req.Name == nil {
			h.fail(w, r, apperror.NewBadRequestError("No fields provided for update", nil))
			return
		}
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.fail(w, r, apperror.NewValidationError("name must not be empty", nil))
			return
		}

		user, err := h.currentUser(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		user.Name = name

		saved, err := h.store.Save(r.Context(), user)
		if errors.Is(err, users.ErrNotFound) {
			h.fail(w, r, apperror.NewUnauthorizedError("User not found", err))
			return
		}
		if err != nil {
			h.fail(w, r, apperror.NewDatabaseError("failed to save user", err))
			return
		}
		auth.WriteJSON(w, http.StatusOK, newProfileResponse(saved))
	}
}

// currentUser loads the full record of the user the gate authenticated.
func (h *Handlers) currentUser(r *http.Request) (*users.User, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, apperror.NewUnauthorizedError("missing token", nil)
	}
	user, err := h.store.FindByEmail(r.Context(), id.Email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, apperror.NewUnauthorizedError("User not found", err)
	}
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to load user", err)
	}
	return user, nil
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	auth.LogError(h.logger, r, err)
	auth.WriteError(w, r, err)
}
