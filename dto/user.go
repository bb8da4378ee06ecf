package dto

import (
	"time"

	"github.com/erpcore/access/models"
)

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	DisplayName string     `json:"display_name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FromUser converts a models.User to UserResponse.
func FromUser(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName(),
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// MeResponse is the authenticated caller with their roles.
type MeResponse struct {
	User      UserResponse `json:"user"`
	Roles     []string     `json:"roles"`
	SessionID string       `json:"session_id"`
}

// StatusResponse answers whether the caller is logged in.
type StatusResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *UserResponse `json:"user,omitempty"`
	Roles         []string      `json:"roles,omitempty"`
}
