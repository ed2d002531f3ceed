package profile

import (
	"time"

	"github.com/code-runner-lcs/api-template-go/users"
)

// ProfileResponse is the account as its owner sees it.
// @Description User profile information
type ProfileResponse struct {
	ID               int64     `json:"id" example:"1"`
	Name             string    `json:"name" example:"Ada"`
	Email            string    `json:"email" example:"ada@example.com"`
	IsEmailConfirmed bool      `json:"isEmailConfirmed"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func newProfileResponse(u *users.User) ProfileResponse {
	return ProfileResponse{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		IsEmailConfirmed: u.IsEmailConfirmed,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// UpdateProfileRequest is the body of PATCH /users/me. Nil fields are left
// unchanged. The email is not editable here because session tokens are bound
// to it.
// @Description Request body for updating user profile
type UpdateProfileRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,max=100" example:"Ada Lovelace"`
}
