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

type RoleStore struct{ DB *gorm.DB }

func NewRoleStore(db *gorm.DB) *RoleStore { return &RoleStore{DB: db} }

// NormalizeRoleName upper-cases a role name and turns spaces into underscores.
func NormalizeRoleName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), "_"))
}

// CreateRole inserts a new active role. A taken name is ErrConflict.
func (s *RoleStore) CreateRole(ctx context.Context, role models.Role) (*models.Role, error) {
	role.Name = NormalizeRoleName(role.Name)
	if role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", errors.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	role.ID = models.NewID()
	role.IsActive = true
	role.CreatedAt, role.UpdatedAt = now, now
	created, err := insertIfAbsent(s.DB.WithContext(ctx), &role, "name")
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: role %s", errors.ErrConflict, role.Name)
	}
	return &role, nil
}

// UpsertRole creates or updates a role identified by its name. An existing role
// is re-activated.
func (s *RoleStore) UpsertRole(ctx context.Context, role models.Role) (*models.Role, error) {
	role.Name = NormalizeRoleName(role.Name)
	if role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", errors.ErrInvalidRequest)
	}
	var out models.Role
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		role.ID = models.NewID()
		role.IsActive = true
		role.CreatedAt, role.UpdatedAt = now, now
		created, err := insertIfAbsent(tx, &role, "name")
		if err != nil {
			return err
		}
		if created {
			out = role
			return nil
		}
		if err := tx.Where("name = ?", role.Name).First(&out).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"description": role.Description,
			"is_system":   role.IsSystem,
			"is_active":   true,
			"updated_at":  now,
		}
		if err := tx.Model(&models.Role{}).Where("id = ?", out.ID).Updates(updates).Error; err != nil {
			return err
		}
		out.Description, out.IsSystem, out.IsActive, out.UpdatedAt = role.Description, role.IsSystem, true, now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RoleUpdate lists the fields UpdateRole may change; nil leaves a field alone.
type RoleUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// UpdateRole applies u to the role with id. Deactivation goes through
// DeactivateRole so assignments are checked.
func (s *RoleStore) UpdateRole(ctx context.Context, id string, u RoleUpdate) (*models.Role, error) {
	var out models.Role
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrRoleNotFound
			}
			return err
		}
		updates := map[string]interface{}{"updated_at": time.Now().UTC()}
		if u.Name != nil {
			name := NormalizeRoleName(*u.Name)
			if name == "" {
				return fmt.Errorf("%w: role name is required", errors.ErrInvalidRequest)
			}
			if name != out.Name {
				if out.IsSystem {
					return errors.ErrSystemRole
				}
				var count int64
				if err := tx.Model(&models.Role{}).Where("name = ? AND id <> ?", name, id).Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					return fmt.Errorf("%w: role %s", errors.ErrConflict, name)
				}
			}
			updates["name"] = name
		}
		if u.Description != nil {
			updates["description"] = strings.TrimSpace(*u.Description)
		}
		if u.IsActive != nil {
			if !*u.IsActive {
				if out.IsSystem {
					return errors.ErrSystemRole
				}
				if err := ensureUnused(tx, id); err != nil {
					return err
				}
			}
			updates["is_active"] = *u.IsActive
		}
		if err := tx.Model(&models.Role{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RoleStore) GetRole(ctx context.Context, id string) (*models.Role, error) {
	var r models.Role
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RoleStore) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var r models.Role
	err := s.DB.WithContext(ctx).Where("name = ?", NormalizeRoleName(name)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RoleStore) ListRoles(ctx context.Context, includeInactive bool) ([]models.Role, error) {
	q := s.DB.WithContext(ctx).Model(&models.Role{})
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var roles []models.Role
	return roles, q.Order("name ASC").Find(&roles).Error
}

// DeactivateRole soft-deletes a role. It fails with ErrRoleInUse while any
// active assignment references it.
func (s *RoleStore) DeactivateRole(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Role
		if err := tx.Where("id = ?", id).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrRoleNotFound
			}
			return err
		}
		if r.IsSystem {
			return errors.ErrSystemRole
		}
		if err := ensureUnused(tx, id); err != nil {
			return err
		}
		return tx.Model(&models.Role{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

func ensureUnused(tx *gorm.DB, roleID string) error {
	var count int64
	if err := tx.Model(&models.UserRole{}).Where("role_id = ? AND is_active = ?", roleID, true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d active assignments", errors.ErrRoleInUse, count)
	}
	return nil
}

// UpsertPermission returns the permission with the same triple, creating it if needed.
func (s *RoleStore) UpsertPermission(ctx context.Context, p models.Permission) (*models.Permission, error) {
	p.Module = strings.ToUpper(strings.TrimSpace(p.Module))
	p.Action = strings.ToUpper(strings.TrimSpace(p.Action))
	p.Resource = strings.ToUpper(strings.TrimSpace(p.Resource))
	if p.Resource == "" {
		p.Resource = models.Wildcard
	}
	if p.Module == "" || p.Action == "" {
		return nil, fmt.Errorf("%w: permission module and action are required", errors.ErrInvalidRequest)
	}
	var out models.Permission
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p.ID = models.NewID()
		p.CreatedAt = time.Now().UTC()
		created, err := insertIfAbsent(tx, &p, "module", "action", "resource")
		if err != nil {
			return err
		}
		if created {
			out = p
			return nil
		}
		if err := tx.Where("module = ? AND action = ? AND resource = ?", p.Module, p.Action, p.Resource).First(&out).Error; err != nil {
			return err
		}
		if p.Description != "" && p.Description != out.Description {
			out.Description = p.Description
			return tx.Model(&models.Permission{}).Where("id = ?", out.ID).Update("description", p.Description).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPermissions returns the catalogue, optionally narrowed to one module.
func (s *RoleStore) ListPermissions(ctx context.Context, module string) ([]models.Permission, error) {
	q := s.DB.WithContext(ctx).Model(&models.Permission{})
	if m := strings.ToUpper(strings.TrimSpace(module)); m != "" {
		q = q.Where("module = ?", m)
	}
	var out []models.Permission
	return out, q.Order("module ASC, action ASC, resource ASC").Find(&out).Error
}

// SetRolePermissions replaces the permission set of a role.
func (s *RoleStore) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Role{}).Where("id = ?", roleID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.ErrRoleNotFound
		}
		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		seen := make(map[string]struct{}, len(permissionIDs))
		for _, pid := range permissionIDs {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			if err := tx.Create(&models.RolePermission{RoleID: roleID, PermissionID: pid, CreatedAt: now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// RolePermissions loads the permissions of each role, keyed by role id.
func (s *RoleStore) RolePermissions(ctx context.Context, roleIDs []string) (map[string][]models.Permission, error) {
	out := make(map[string][]models.Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		RoleID      string
		ID          string
		Module      string
		Action      string
		Resource    string
		Description string
	}
	err := s.DB.WithContext(ctx).Table("role_permissions rp").
		Select("rp.role_id, p.id, p.module, p.action, p.resource, p.description").
		Joins("JOIN permissions p ON p.id = rp.permission_id").
		Where("rp.role_id IN ?", roleIDs).
		Order("p.module ASC, p.action ASC, p.resource ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RoleID] = append(out[r.RoleID], models.Permission{
			ID: r.ID, Module: r.Module, Action: r.Action, Resource: r.Resource, Description: r.Description,
		})
	}
	return out, nil
}

// AssignRole activates the (user, role, branch) edge, creating it if needed.
// branchID "" makes the assignment global.
func (s *RoleStore) AssignRole(ctx context.Context, userID, roleID, branchID, assignedBy string) (*models.UserRole, error) {
	var out models.UserRole
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		out = models.UserRole{
			ID:         models.NewID(),
			UserID:     userID,
			RoleID:     roleID,
			BranchID:   branchID,
			IsActive:   true,
			AssignedBy: assignedBy,
			AssignedAt: now,
			UpdatedAt:  now,
		}
		created, err := insertIfAbsent(tx, &out, "user_id", "role_id", "branch_id")
		if err != nil || created {
			return err
		}
		out = models.UserRole{}
		if err := tx.Where("user_id = ? AND role_id = ? AND branch_id = ?", userID, roleID, branchID).First(&out).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"is_active":   true,
			"assigned_by": assignedBy,
			"updated_at":  now,
		}
		if !out.IsActive {
			updates["assigned_at"] = now
			out.AssignedAt = now
		}
		out.IsActive, out.AssignedBy, out.UpdatedAt = true, assignedBy, now
		return tx.Model(&models.UserRole{}).Where("id = ?", out.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeRole deactivates assignments of roleID for userID. A nil branchID
// revokes the role everywhere; otherwise only that edge ("" is the global edge).
// It returns the number of edges deactivated.
func (s *RoleStore) RevokeRole(ctx context.Context, userID, roleID string, branchID *string) (int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.UserRole{}).
		Where("user_id = ? AND role_id = ? AND is_active = ?", userID, roleID, true)
	if branchID != nil {
		q = q.Where("branch_id = ?", *branchID)
	}
	res := q.Updates(map[string]interface{}{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// ActiveGrants lists the user's active assignments of active roles in a stable
// order. A non-empty branchID keeps global edges and edges of that branch only.
func (s *RoleStore) ActiveGrants(ctx context.Context, userID, branchID string) ([]models.RoleGrant, error) {
	q := s.DB.WithContext(ctx).Table("user_roles ur").
		Select("ur.id AS assignment_id, ur.role_id, r.name AS role_name, r.description AS role_description, ur.branch_id").
		Joins("JOIN roles r ON r.id = ur.role_id").
		Where("ur.user_id = ? AND ur.is_active = ? AND r.is_active = ?", userID, true, true)
	if branchID != "" {
		q = q.Where("ur.branch_id IN ?", []string{branchID, ""})
	}
	var grants []models.RoleGrant
	err := q.Order("ur.assigned_at ASC, r.name ASC, ur.branch_id ASC").Scan(&grants).Error
	return grants, err
}
