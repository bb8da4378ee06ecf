package dto

import (
	"time"

	"github.com/erpcore/access/generates"
	"github.com/erpcore/access/models"
)

// LoginRequest accepts an email or a username as identifier.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password" binding:"required"`
}

// Login returns the first identifier supplied.
func (r LoginRequest) Login() string {
	switch {
	case r.Identifier != "":
		return r.Identifier
	case r.Email != "":
		return r.Email
	default:
		return r.Username
	}
}

type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	SessionID        string        `json:"session_id"`
	User             *UserResponse `json:"user,omitempty"`
	Roles            []string      `json:"roles"`
}

// FromTokens builds a TokenResponse; now is used for expires_in.
func FromTokens(pair generates.TokenPair, sessionID string, u *models.User, roles []string, now time.Time) TokenResponse {
	resp := TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        sessionID,
		Roles:            roles,
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if u != nil {
		ur := FromUser(u)
		resp.User = &ur
	}
	return resp
}

// SessionResponse describes one login session. The bound token is never exposed.
type SessionResponse struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

// FromSessions converts sessions, flagging the one with currentID.
func FromSessions(sessions []models.Session, currentID string) []SessionResponse {
	out := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = SessionResponse{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == currentID,
		}
	}
	return out
}
