package store

import (
	"sort"
	"time"

	"github.com/erpcore/access/models"
)

// record is the key-value encoding of a session. Unlike the API shape it keeps the token.
type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func sessionRecord(s models.Session) record {
	return record{
		ID:        s.ID,
		UserID:    s.UserID,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		UserAgent: s.UserAgent,
		IPAddress: s.IPAddress,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r record) session() models.Session {
	return models.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Token:     r.Token,
		ExpiresAt: r.ExpiresAt,
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// sortSessions orders newest first, matching the SQL store.
func sortSessions(s []models.Session) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].CreatedAt.After(s[j].CreatedAt) })
}
