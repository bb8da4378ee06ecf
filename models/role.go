package models

import "time"

const (
	// SuperAdminRole bypasses permission checks and sees every active branch.
	SuperAdminRole = "SUPER_ADMIN"
	// Wildcard matches any module, action or resource.
	Wildcard = "*"
)

// Role is a named bundle of permissions. Roles are never hard-deleted;
// deactivated roles grant nothing.
type Role struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Name        string    `gorm:"column:name" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	IsActive    bool      `gorm:"column:is_active" json:"is_active"`
	IsSystem    bool      `gorm:"column:is_system" json:"is_system"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Role) TableName() string { return "roles" }

// Permission is a MODULE:ACTION:RESOURCE triple. Resource "*" stands for any resource.
type Permission struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Module      string    `gorm:"column:module" json:"module"`
	Action      string    `gorm:"column:action" json:"action"`
	Resource    string    `gorm:"column:resource" json:"resource"`
	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Permission) TableName() string { return "permissions" }

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string    `gorm:"column:role_id;primaryKey"`
	PermissionID string    `gorm:"column:permission_id;primaryKey"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RolePermission) TableName() string { return "role_permissions" }

// UserRole assigns a role to a user, either globally (BranchID "") or within one branch.
type UserRole struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	UserID     string    `gorm:"column:user_id" json:"user_id"`
	RoleID     string    `gorm:"column:role_id" json:"role_id"`
	BranchID   string    `gorm:"column:branch_id" json:"branch_id"`
	IsActive   bool      `gorm:"column:is_active" json:"is_active"`
	AssignedBy string    `gorm:"column:assigned_by" json:"assigned_by"`
	AssignedAt time.Time `gorm:"column:assigned_at" json:"assigned_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (UserRole) TableName() string { return "user_roles" }

// Global reports whether the assignment applies in every branch.
func (ur UserRole) Global() bool { return ur.BranchID == "" }

// RoleGrant is an active assignment joined with its active role.
type RoleGrant struct {
	AssignmentID    string `gorm:"column:assignment_id"`
	RoleID          string `gorm:"column:role_id"`
	RoleName        string `gorm:"column:role_name"`
	RoleDescription string `gorm:"column:role_description"`
	BranchID        string `gorm:"column:branch_id"`
}
