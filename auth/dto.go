package auth

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"ada@example.com"`
	Password string `json:"password" validate:"required,min=8,max=72" example:"longenough1"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100" example:"Ada"`
	Email    string `json:"email" validate:"required,email" example:"ada@example.com"`
	Password string `json:"password" validate:"required,min=8,max=72" example:"longenough1"`
}

// EmailRequest is the body of POST /auth/ask-password-reset and
// POST /auth/confirmation.
type EmailRequest struct {
	To string `json:"to" validate:"required,email" example:"ada@example.com"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72" example:"longenough2"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}

// RegisterResponse is returned on a successful registration. MailErrors lists
// the mails that could not be sent; the account exists regardless.
type RegisterResponse struct {
	Message    string   `json:"message"`
	User       Identity `json:"user"`
	Token      string   `json:"token"`
	MailErrors []string `json:"mailErrors"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
