package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/erpcore/access/models"
	"github.com/erpcore/access/permission"
	"github.com/erpcore/access/store"
	"github.com/erpcore/access/utils/password"
)

// RoleDefinition is a role created on every seed run.
type RoleDefinition struct {
	Name        string
	Description string
	Permissions []string
}

// PredefinedRoles ship with every deployment. All are marked system roles.
var PredefinedRoles = []RoleDefinition{
	{models.SuperAdminRole, "Full access to every module and branch", []string{"*:*:*"}},
	{"ADMIN", "Administers users, roles and branches", []string{"ADMIN:*", "REPORTS:*"}},
	{"BRANCH_MANAGER", "Runs a branch", []string{
		"SALES:*", "SERVICE:*", "INVENTORY:*", "REPORTS:READ", "REPORTS:EXPORT", "FINANCE:READ", "HR:READ",
	}},
	{"SALES_EXECUTIVE", "Works leads, quotations and orders", []string{
		"SALES:CREATE", "SALES:READ", "SALES:UPDATE", "INVENTORY:READ", "REPORTS:READ:SALES",
	}},
	{"SERVICE_ENGINEER", "Handles service tickets", []string{
		"SERVICE:CREATE", "SERVICE:READ", "SERVICE:UPDATE", "INVENTORY:READ",
	}},
	{"ACCOUNTANT", "Keeps the books", []string{
		"FINANCE:*", "SALES:READ", "REPORTS:READ:FINANCE", "REPORTS:EXPORT:FINANCE",
	}},
	{"PRODUCTION_MANAGER", "Plans production and manufacturing", []string{
		"PRODUCTION:*", "MANUFACTURING:*", "INVENTORY:READ", "INVENTORY:UPDATE", "REPORTS:READ:PRODUCTION",
	}},
	{"VIEWER", "Read-only access", []string{"*:READ"}},
}

// Roles upserts every predefined role. Running it twice leaves the same state.
func Roles(ctx context.Context, svc *permission.Service) ([]permission.RoleDetail, error) {
	out := make([]permission.RoleDetail, 0, len(PredefinedRoles))
	for _, def := range PredefinedRoles {
		role, err := svc.UpsertRole(ctx, def.Name, def.Description, def.Permissions, true)
		if err != nil {
			return nil, fmt.Errorf("seed role %s: %w", def.Name, err)
		}
		out = append(out, *role)
	}
	return out, nil
}

// AdminAccount is the bootstrap super-admin.
type AdminAccount struct {
	Email    string
	Username string
	Password string
}

// Admin makes sure the bootstrap account exists and holds SUPER_ADMIN globally.
// An existing account keeps its password. An empty email or password skips.
func Admin(ctx context.Context, users *store.UserStore, svc *permission.Service, hasher *password.Hasher, a AdminAccount) (*models.User, error) {
	if strings.TrimSpace(a.Email) == "" || a.Password == "" {
		return nil, nil
	}
	hash, err := hasher.Hash(a.Password)
	if err != nil {
		return nil, err
	}
	username := a.Username
	if username == "" {
		username = strings.SplitN(a.Email, "@", 2)[0]
	}
	u, err := users.UpsertByEmail(ctx, models.User{
		Email:        a.Email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("seed admin user: %w", err)
	}
	if _, err := svc.AssignRoleByName(ctx, u.ID, models.SuperAdminRole, "", "seed"); err != nil {
		return nil, fmt.Errorf("seed admin role: %w", err)
	}
	return u, nil
}
