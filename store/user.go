package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

// UserStore provides operations for users.
type UserStore struct {
	DB *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore { return &UserStore{DB: db} }

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts an active user. Email and username must be unused.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	if u.Email == "" || u.Username == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: email, username and password are required", errors.ErrInvalidRequest)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).
			Where("email = ? OR LOWER(username) = ?", u.Email, strings.ToLower(u.Username)).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: email or username already registered", errors.ErrConflict)
		}
		now := time.Now().UTC()
		if u.ID == "" {
			u.ID = models.NewID()
		}
		u.CreatedAt, u.UpdatedAt = now, now
		return tx.Create(u).Error
	})
}

// GetByID returns ErrUserNotFound when no row matches.
func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByLogin finds a user by email or username, case-insensitively.
func (s *UserStore) GetByLogin(ctx context.Context, identifier string) (*models.User, error) {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	if ident == "" {
		return nil, errors.ErrUserNotFound
	}
	var u models.User
	err := s.DB.WithContext(ctx).
		Where("email = ? OR LOWER(username) = ?", ident, ident).
		Order("created_at ASC").
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword stores a new hash and stamps password_changed_at.
func (s *UserStore) UpdatePassword(ctx context.Context, id, hash string) error {
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"password_hash":       hash,
		"password_changed_at": now,
		"updated_at":          now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// SetActive enables or disables a user. Disabled users fail session validation.
func (s *UserStore) SetActive(ctx context.Context, id string, active bool) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (s *UserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error
}

// UpsertByEmail creates the user unless the email is taken, in which case the
// existing row is returned untouched. Used for bootstrap accounts.
func (s *UserStore) UpsertByEmail(ctx context.Context, u models.User) (*models.User, error) {
	u.Email = NormalizeEmail(u.Email)
	var out models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", u.Email).First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			now := time.Now().UTC()
			u.ID = models.NewID()
			u.CreatedAt, u.UpdatedAt = now, now
			if err := tx.Create(&u).Error; err != nil {
				return err
			}
			out = u
			return nil
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
