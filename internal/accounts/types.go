package accounts

import "time"

// Roles a user can hold.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Account is a user account without its credential.
type Account struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name,omitempty"`
	Role           string    `json:"role"`
	AutoRegistered bool      `json:"auto_registered"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account holds the admin role.
func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

// CreateAccountRequest is the input for creating a human account.
type CreateAccountRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// UpdatePasswordRequest is the input for a password change.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}
