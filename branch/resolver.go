// Package branch resolves which branches a user may see and turns that set
// into query filters.
package branch

import (
	"context"
	"strings"

	"github.com/erpcore/access/models"
	"github.com/erpcore/access/store"
)

// Partitioned maps entity kinds that carry a branch column to that column.
// Kinds not listed here are shared across branches and never filtered.
var Partitioned = map[string]string{
	"branch":           "id",
	"customer":         "branch_id",
	"lead":             "branch_id",
	"quotation":        "branch_id",
	"sales_order":      "branch_id",
	"service_ticket":   "branch_id",
	"contract":         "branch_id",
	"invoice":          "branch_id",
	"payment":          "branch_id",
	"inventory_item":   "branch_id",
	"stock_movement":   "branch_id",
	"production_order": "branch_id",
	"employee":         "branch_id",
}

type Resolver struct {
	roles    *store.RoleStore
	branches *store.BranchStore
}

func NewResolver(roles *store.RoleStore, branches *store.BranchStore) *Resolver {
	return &Resolver{roles: roles, branches: branches}
}

// scope returns whether the user holds the super-admin role and, if not, the
// branch ids of their branch-scoped assignments.
func (r *Resolver) scope(ctx context.Context, userID string) (bool, []string, error) {
	grants, err := r.roles.ActiveGrants(ctx, userID, "")
	if err != nil {
		return false, nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, g := range grants {
		if g.RoleName == models.SuperAdminRole {
			return true, nil, nil
		}
		if g.BranchID == "" {
			continue
		}
		if _, ok := seen[g.BranchID]; ok {
			continue
		}
		seen[g.BranchID] = struct{}{}
		ids = append(ids, g.BranchID)
	}
	return false, ids, nil
}

// AccessibleBranches returns the active branches userID may access, sorted.
// Super-admins get every active branch. Global assignments contribute none.
func (r *Resolver) AccessibleBranches(ctx context.Context, userID string) ([]string, error) {
	super, ids, err := r.scope(ctx, userID)
	if err != nil {
		return nil, err
	}
	if super {
		return r.branches.ActiveIDs(ctx)
	}
	return r.branches.FilterActive(ctx, ids)
}

// Filter builds the branch predicate for queries over entityKind.
func (r *Resolver) Filter(ctx context.Context, userID, entityKind string) (Filter, error) {
	column, ok := Partitioned[strings.ToLower(strings.TrimSpace(entityKind))]
	if !ok {
		return Unrestricted(), nil
	}
	super, ids, err := r.scope(ctx, userID)
	if err != nil {
		return Filter{}, err
	}
	if super {
		return Unrestricted(), nil
	}
	active, err := r.branches.FilterActive(ctx, ids)
	if err != nil {
		return Filter{}, err
	}
	return RestrictedTo(column, active), nil
}
