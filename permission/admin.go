package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/store"
)

// RoleDetail is a role with its permission set.
type RoleDetail struct {
	models.Role
	Permissions []Triple `json:"permissions"`
}

// parseAll validates every permission string before anything is written.
func parseAll(perms []string) ([]Triple, error) {
	out := make([]Triple, 0, len(perms))
	for _, p := range perms {
		t, err := ParseTriple(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) savePermissions(ctx context.Context, roleID string, triples []Triple) error {
	ids := make([]string, 0, len(triples))
	for _, t := range triples {
		p, err := s.roles.UpsertPermission(ctx, t.Model())
		if err != nil {
			return err
		}
		ids = append(ids, p.ID)
	}
	return s.roles.SetRolePermissions(ctx, roleID, ids)
}

// CreateRole adds a role with the given permission strings.
func (s *Service) CreateRole(ctx context.Context, name, description string, perms []string) (*RoleDetail, error) {
	triples, err := parseAll(perms)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.CreateRole(ctx, models.Role{Name: name, Description: strings.TrimSpace(description)})
	if err != nil {
		return nil, err
	}
	if err := s.savePermissions(ctx, role.ID, triples); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, role.ID)
}

// UpsertRole creates or refreshes a role by name and replaces its permissions.
// Re-running it with the same input changes nothing.
func (s *Service) UpsertRole(ctx context.Context, name, description string, perms []string, system bool) (*RoleDetail, error) {
	triples, err := parseAll(perms)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.UpsertRole(ctx, models.Role{Name: name, Description: description, IsSystem: system})
	if err != nil {
		return nil, err
	}
	if err := s.savePermissions(ctx, role.ID, triples); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, role.ID)
}

// UpdateRole changes name, description or active flag.
func (s *Service) UpdateRole(ctx context.Context, id string, u store.RoleUpdate) (*RoleDetail, error) {
	if _, err := s.roles.UpdateRole(ctx, id, u); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, id)
}

func (s *Service) GetRole(ctx context.Context, id string) (*RoleDetail, error) {
	role, err := s.roles.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.RolePermissions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return detail(*role, perms[id]), nil
}

func detail(role models.Role, perms []models.Permission) *RoleDetail {
	d := &RoleDetail{Role: role, Permissions: make([]Triple, 0, len(perms))}
	for _, p := range perms {
		d.Permissions = append(d.Permissions, FromModel(p))
	}
	return d
}

func (s *Service) ListRoles(ctx context.Context, includeInactive bool) ([]RoleDetail, error) {
	roles, err := s.roles.ListRoles(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	perms, err := s.roles.RolePermissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]RoleDetail, 0, len(roles))
	for _, r := range roles {
		out = append(out, *detail(r, perms[r.ID]))
	}
	return out, nil
}

// DeleteRole deactivates a role; ErrRoleInUse while users still hold it.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	return s.roles.DeactivateRole(ctx, id)
}

// UpsertPermission registers a permission triple in the catalogue.
func (s *Service) UpsertPermission(ctx context.Context, t Triple, description string) (*models.Permission, error) {
	p := t.Model()
	p.Description = strings.TrimSpace(description)
	return s.roles.UpsertPermission(ctx, p)
}

func (s *Service) ListPermissions(ctx context.Context, module string) ([]models.Permission, error) {
	return s.roles.ListPermissions(ctx, module)
}

// SetRolePermissions replaces the permission set of a role with perms.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, perms []string) (*RoleDetail, error) {
	triples, err := parseAll(perms)
	if err != nil {
		return nil, err
	}
	if _, err := s.roles.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	if err := s.savePermissions(ctx, roleID, triples); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, roleID)
}

// AssignRole grants roleID to userID, globally when branchID is "". The user,
// an active role and (if given) the branch must exist.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, branchID, assignedBy string) (*models.UserRole, error) {
	if userID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: user and role are required", errors.ErrInvalidRequest)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, fmt.Errorf("%w: role %s is inactive", errors.ErrRoleNotFound, role.Name)
	}
	if branchID != "" {
		if _, err := s.branches.GetBranch(ctx, branchID); err != nil {
			return nil, err
		}
	}
	return s.roles.AssignRole(ctx, userID, roleID, branchID, assignedBy)
}

// AssignRoleByName is AssignRole for callers that know the role name.
func (s *Service) AssignRoleByName(ctx context.Context, userID, roleName, branchID, assignedBy string) (*models.UserRole, error) {
	role, err := s.roles.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return s.AssignRole(ctx, userID, role.ID, branchID, assignedBy)
}

// RevokeRole deactivates the user's assignment of roleID. A nil branchID
// revokes every edge of that role.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID string, branchID *string) error {
	n, err := s.roles.RevokeRole(ctx, userID, roleID, branchID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no active assignment", errors.ErrRoleNotFound)
	}
	return nil
}
