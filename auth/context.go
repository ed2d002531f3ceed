package auth

import (
	"context"
	"time"

	"github.com/code-runner-lcs/api-template-go/users"
)

// contextKey is a custom type for context keys. Using a custom type prevents
// collisions with context keys defined in other packages.
type contextKey string

const (
	identityContextKey contextKey = "auth_identity"
)

// Identity is the authenticated user attached to a request. It is built from
// the stored user but never carries the password hash.
type Identity struct {
	ID        int64     `json:"id" example:"1"`
	Email     string    `json:"email" example:"ada@example.com"`
	Name      string    `json:"name" example:"Ada"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IdentityFromUser strips u down to what may be shown to its owner.
func IdentityFromUser(u *users.User) Identity {
	return Identity{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewContextWithIdentity returns a child of ctx carrying id.
func NewContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the identity stored by the request gate.
// The second return value is false on public routes.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
