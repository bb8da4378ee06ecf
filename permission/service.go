package permission

import (
	"context"
	"fmt"
	"sort"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/store"
)

// Service evaluates and administers role-based permissions. Every check reads
// the store; nothing is cached.
type Service struct {
	roles    *store.RoleStore
	users    *store.UserStore
	branches *store.BranchStore
}

func NewService(roles *store.RoleStore, users *store.UserStore, branches *store.BranchStore) *Service {
	return &Service{roles: roles, users: users, branches: branches}
}

// Evaluate walks grants in order and reports whether any permission of their
// roles matches. The first match wins; there is no deny rule.
func Evaluate(grants []models.RoleGrant, perms map[string][]models.Permission, module, action, resource string) bool {
	for _, g := range grants {
		for _, p := range perms[g.RoleID] {
			if FromModel(p).Matches(module, action, resource) {
				return true
			}
		}
	}
	return false
}

func roleIDs(grants []models.RoleGrant) []string {
	seen := make(map[string]struct{}, len(grants))
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.RoleID]; ok {
			continue
		}
		seen[g.RoleID] = struct{}{}
		ids = append(ids, g.RoleID)
	}
	return ids
}

// HasPermission reports whether userID may perform action on resource in module.
// A non-empty branchID restricts branch-scoped assignments to that branch;
// global assignments always count.
func (s *Service) HasPermission(ctx context.Context, userID, module, action, resource, branchID string) (bool, error) {
	return s.check(ctx, userID, module, action, resource, branchID, false)
}

// HasGlobalPermission counts unscoped assignments only. Actions whose effect
// reaches past a single branch are checked with it.
func (s *Service) HasGlobalPermission(ctx context.Context, userID, module, action, resource string) (bool, error) {
	return s.check(ctx, userID, module, action, resource, "", true)
}

func (s *Service) check(ctx context.Context, userID, module, action, resource, branchID string, globalOnly bool) (bool, error) {
	module, action, resource = normalize(module), normalize(action), normalize(resource)
	if userID == "" || module == "" || action == "" {
		return false, fmt.Errorf("%w: user, module and action are required", errors.ErrInvalidRequest)
	}
	grants, err := s.roles.ActiveGrants(ctx, userID, branchID)
	if err != nil {
		return false, err
	}
	if globalOnly {
		grants = globalGrants(grants)
	}
	if len(grants) == 0 {
		return false, nil
	}
	perms, err := s.roles.RolePermissions(ctx, roleIDs(grants))
	if err != nil {
		return false, err
	}
	return Evaluate(grants, perms, module, action, resource), nil
}

func globalGrants(grants []models.RoleGrant) []models.RoleGrant {
	out := grants[:0:0]
	for _, g := range grants {
		if g.BranchID == "" {
			out = append(out, g)
		}
	}
	return out
}

// RoleSummary describes one active assignment.
type RoleSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BranchID    string `json:"branch_id,omitempty"`
}

// UserPermissions is the capability view of a user, for display rather than enforcement.
type UserPermissions struct {
	Roles       []RoleSummary `json:"roles"`
	Permissions []Triple      `json:"permissions"`
}

// GetUserPermissions returns the de-duplicated permissions reachable through
// the user's active assignments, filtered like HasPermission.
func (s *Service) GetUserPermissions(ctx context.Context, userID, branchID string) (*UserPermissions, error) {
	grants, err := s.roles.ActiveGrants(ctx, userID, branchID)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.RolePermissions(ctx, roleIDs(grants))
	if err != nil {
		return nil, err
	}

	out := &UserPermissions{Roles: make([]RoleSummary, 0, len(grants)), Permissions: []Triple{}}
	seen := make(map[string]struct{})
	for _, g := range grants {
		out.Roles = append(out.Roles, RoleSummary{ID: g.RoleID, Name: g.RoleName, Description: g.RoleDescription, BranchID: g.BranchID})
		for _, p := range perms[g.RoleID] {
			t := FromModel(p)
			key := t.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Permissions = append(out.Permissions, t)
		}
	}
	sort.Slice(out.Permissions, func(i, j int) bool { return out.Permissions[i].String() < out.Permissions[j].String() })
	return out, nil
}

// RoleNames returns the distinct names of the user's active roles, sorted.
func (s *Service) RoleNames(ctx context.Context, userID string) ([]string, error) {
	grants, err := s.roles.ActiveGrants(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(grants))
	names := make([]string, 0, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.RoleName]; ok {
			continue
		}
		seen[g.RoleName] = struct{}{}
		names = append(names, g.RoleName)
	}
	sort.Strings(names)
	return names, nil
}

// IsSuperAdmin reports whether any active assignment names the super-admin role.
func IsSuperAdmin(roles []string) bool {
	for _, r := range roles {
		if r == models.SuperAdminRole {
			return true
		}
	}
	return false
}
