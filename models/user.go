package models

import (
	"strings"
	"time"
)

// User is a principal that can log in. PasswordHash never leaves the server.
type User struct {
	ID                string     `gorm:"column:id;primaryKey" json:"id"`
	Email             string     `gorm:"column:email" json:"email"`
	Username          string     `gorm:"column:username" json:"username"`
	PasswordHash      string     `gorm:"column:password_hash" json:"-"`
	FirstName         string     `gorm:"column:first_name" json:"first_name"`
	LastName          string     `gorm:"column:last_name" json:"last_name"`
	IsActive          bool       `gorm:"column:is_active" json:"is_active"`
	LastLoginAt       *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `gorm:"column:password_changed_at" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full == "" {
		return u.Username
	}
	return full
}
