package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

type BranchStore struct{ DB *gorm.DB }

func NewBranchStore(db *gorm.DB) *BranchStore { return &BranchStore{DB: db} }

// UpsertBranch creates or updates a branch identified by its code.
func (s *BranchStore) UpsertBranch(ctx context.Context, b models.Branch) (*models.Branch, error) {
	b.Code = strings.ToUpper(strings.TrimSpace(b.Code))
	b.Name = strings.TrimSpace(b.Name)
	if b.Code == "" || b.Name == "" {
		return nil, fmt.Errorf("%w: branch code and name are required", errors.ErrInvalidRequest)
	}
	var out models.Branch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		b.ID = models.NewID()
		b.IsActive = true
		b.CreatedAt, b.UpdatedAt = now, now
		created, err := insertIfAbsent(tx, &b, "code")
		if err != nil {
			return err
		}
		if created {
			out = b
			return nil
		}
		if err := tx.Where("code = ?", b.Code).First(&out).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"name":       b.Name,
			"address":    b.Address,
			"updated_at": now,
		}
		if err := tx.Model(&models.Branch{}).Where("id = ?", out.ID).Updates(updates).Error; err != nil {
			return err
		}
		out.Name, out.Address, out.UpdatedAt = b.Name, b.Address, now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	var b models.Branch
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrBranchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBranches returns branches ordered by code. Scopes narrow the query, e.g. a branch filter.
func (s *BranchStore) ListBranches(ctx context.Context, scopes ...func(*gorm.DB) *gorm.DB) ([]models.Branch, error) {
	var out []models.Branch
	err := s.DB.WithContext(ctx).Model(&models.Branch{}).Scopes(scopes...).Order("code ASC").Find(&out).Error
	return out, err
}

// ActiveIDs returns the ids of every active branch.
func (s *BranchStore) ActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.Branch{}).
		Where("is_active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// FilterActive keeps the ids that name an active branch, sorted.
func (s *BranchStore) FilterActive(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	var out []string
	err := s.DB.WithContext(ctx).Model(&models.Branch{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Pluck("id", &out).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// SetActive toggles a branch. Deactivated branches vanish from every accessible set.
func (s *BranchStore) SetActive(ctx context.Context, id string, active bool) error {
	res := s.DB.WithContext(ctx).Model(&models.Branch{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrBranchNotFound
	}
	return nil
}
