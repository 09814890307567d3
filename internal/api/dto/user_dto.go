package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// RegisterUserRequest creates an employee account.
type RegisterUserRequest struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest payload.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// UserResponse is the employee view.
type UserResponse struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// AuthResponse carries a bearer token.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// FromUser maps the domain user.
func FromUser(user *domain.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		BranchID: user.BranchID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     string(user.Role),
		Active:   user.Active,
	}
}
