package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

// SessionStore persists login sessions. Get returns (nil, nil) for an unknown
// id; Revoke on an unknown id is a no-op. Expiry is not enforced here: callers
// compare ExpiresAt on read.
type SessionStore interface {
	Create(ctx context.Context, userID string, expiresAt time.Time, meta models.SessionMeta) (*models.Session, error)
	BindToken(ctx context.Context, sessionID, token string) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Refresh(ctx context.Context, sessionID string, expiresAt time.Time, token string) error
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllExcept(ctx context.Context, userID, keepSessionID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	Close() error
}

func newSession(userID string, expiresAt time.Time, meta models.SessionMeta) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:        models.NewID(),
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SQLSessionStore keeps sessions in the relational database.
type SQLSessionStore struct{ DB *gorm.DB }

func NewSQLSessionStore(db *gorm.DB) *SQLSessionStore { return &SQLSessionStore{DB: db} }

func (s *SQLSessionStore) Create(ctx context.Context, userID string, expiresAt time.Time, meta models.SessionMeta) (*models.Session, error) {
	sess := newSession(userID, expiresAt, meta)
	if err := s.DB.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLSessionStore) BindToken(ctx context.Context, sessionID, token string) error {
	return s.update(ctx, sessionID, map[string]interface{}{
		"token":      token,
		"updated_at": time.Now().UTC(),
	})
}

func (s *SQLSessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLSessionStore) Refresh(ctx context.Context, sessionID string, expiresAt time.Time, token string) error {
	return s.update(ctx, sessionID, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.UTC(),
		"updated_at": time.Now().UTC(),
	})
}

func (s *SQLSessionStore) update(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).Where("id = ?", sessionID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

func (s *SQLSessionStore) Revoke(ctx context.Context, sessionID string) error {
	return s.DB.WithContext(ctx).Where("id = ?", sessionID).Delete(&models.Session{}).Error
}

func (s *SQLSessionStore) RevokeAllExcept(ctx context.Context, userID, keepSessionID string) (int, error) {
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if keepSessionID != "" {
		q = q.Where("id <> ?", keepSessionID)
	}
	res := q.Delete(&models.Session{})
	return int(res.RowsAffected), res.Error
}

func (s *SQLSessionStore) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	var out []models.Session
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, err
}

// PurgeExpired deletes sessions that expired before now. Validity never
// depends on it having run.
func (s *SQLSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLSessionStore) Close() error { return nil }
