package auth

import (
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// RegisterInput carries a sign-up request after transport decoding.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput carries a credential check.
type LoginInput struct {
	Email    string
	Password string
}

// ChangePasswordInput carries a password rotation for an authenticated account.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// AccountView is the sanitized account returned to clients. It never carries
// the hash or lockout state.
type AccountView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Token        string     `json:"token,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// NewAccountView projects an account onto its public fields.
func NewAccountView(account *users.Account) *AccountView {
	return &AccountView{
		ID:        account.ID,
		Name:      account.Name,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
}
