package models

import "time"

// Session is a login session. Tokens carry its ID; deleting the row revokes
// every token minted for it.
type Session struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id" json:"user_id"`
	Token     string    `gorm:"column:token" json:"-"`
	ExpiresAt time.Time `gorm:"column:expires_at" json:"expires_at"`
	UserAgent string    `gorm:"column:user_agent" json:"user_agent"`
	IPAddress string    `gorm:"column:ip_address" json:"ip_address"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionMeta is client information recorded when a session is opened.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}
