package dto

import (
	"time"

	"github.com/erpcore/access/models"
	"github.com/erpcore/access/permission"
)

// CreateRoleRequest creates a role. Permissions are "MODULE:ACTION[:RESOURCE]" strings.
type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleRequest changes the fields that are present.
type UpdateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type SetRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// CreatePermissionRequest registers a permission, either as a string or as parts.
type CreatePermissionRequest struct {
	Permission  string `json:"permission"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

// Triple returns the permission string of the request.
func (r CreatePermissionRequest) Triple() string {
	if r.Permission != "" {
		return r.Permission
	}
	s := r.Module + ":" + r.Action
	if r.Resource != "" {
		s += ":" + r.Resource
	}
	return s
}

// AssignRoleRequest assigns a role; an empty branch_id makes it global.
type AssignRoleRequest struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
	BranchID string `json:"branch_id"`
}

// CheckPermissionRequest asks whether a user holds a permission.
type CheckPermissionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Module   string `json:"module" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Resource string `json:"resource"`
	BranchID string `json:"branch_id"`
}

type CheckPermissionResponse struct {
	Allowed bool `json:"allowed"`
}

// RoleResponse represents a role with its permission strings.
type RoleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func FromRole(r *permission.RoleDetail) RoleResponse {
	perms := make([]string, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = p.String()
	}
	return RoleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func FromRoles(roles []permission.RoleDetail) []RoleResponse {
	out := make([]RoleResponse, len(roles))
	for i := range roles {
		out[i] = FromRole(&roles[i])
	}
	return out
}

// PermissionResponse represents a catalogue entry.
type PermissionResponse struct {
	ID          string `json:"id"`
	Permission  string `json:"permission"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

func FromPermission(p models.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID,
		Permission:  permission.FromModel(p).String(),
		Module:      p.Module,
		Action:      p.Action,
		Resource:    p.Resource,
		Description: p.Description,
	}
}

func FromPermissions(perms []models.Permission) []PermissionResponse {
	out := make([]PermissionResponse, len(perms))
	for i, p := range perms {
		out[i] = FromPermission(p)
	}
	return out
}

// UserPermissionsResponse is the capability view of a user.
type UserPermissionsResponse struct {
	UserID      string                   `json:"user_id"`
	Roles       []permission.RoleSummary `json:"roles"`
	Permissions []string                 `json:"permissions"`
}

func FromUserPermissions(userID string, up *permission.UserPermissions) UserPermissionsResponse {
	perms := make([]string, len(up.Permissions))
	for i, p := range up.Permissions {
		perms[i] = p.String()
	}
	return UserPermissionsResponse{UserID: userID, Roles: up.Roles, Permissions: perms}
}

// BranchResponse represents a branch.
type BranchResponse struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	IsActive bool   `json:"is_active"`
}

func FromBranches(branches []models.Branch) []BranchResponse {
	out := make([]BranchResponse, len(branches))
	for i, b := range branches {
		out[i] = BranchResponse{ID: b.ID, Code: b.Code, Name: b.Name, Address: b.Address, IsActive: b.IsActive}
	}
	return out
}

type SetBranchActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// UserBranchesResponse lists the branches a user can access.
type UserBranchesResponse struct {
	UserID   string   `json:"user_id"`
	Branches []string `json:"branches"`
}
