package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/permission"
	"github.com/erpcore/access/store"
	"github.com/erpcore/access/store/storetest"
)

func TestParseTriple(t *testing.T) {
	tests := []struct {
		in   string
		want permission.Triple
		ok   bool
	}{
		{"SALES:CREATE:LEAD", permission.Triple{Module: "SALES", Action: "CREATE", Resource: "LEAD"}, true},
		{"sales:read", permission.Triple{Module: "SALES", Action: "READ", Resource: "*"}, true},
		{" *:* ", permission.Triple{Module: "*", Action: "*", Resource: "*"}, true},
		{"SALES:*:", permission.Triple{Module: "SALES", Action: "*", Resource: "*"}, true},
		{"SALES", permission.Triple{}, false},
		{"A:B:C:D", permission.Triple{}, false},
		{"SALES:CRE ATE", permission.Triple{}, false},
		{":READ", permission.Triple{}, false},
		{"SALES:READ:lead-1", permission.Triple{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := permission.ParseTriple(tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTripleMatches(t *testing.T) {
	tests := []struct {
		perm                     string
		module, action, resource string
		want                     bool
	}{
		{"*:*", "FINANCE", "DELETE", "INVOICE", true},
		{"*:*:LEAD", "FINANCE", "DELETE", "INVOICE", true},
		{"SALES:*", "SALES", "APPROVE", "QUOTE", true},
		{"SALES:*", "FINANCE", "READ", "", false},
		{"*:READ", "HR", "READ", "PAYSLIP", true},
		{"*:READ", "HR", "UPDATE", "PAYSLIP", false},
		{"SALES:CREATE:LEAD", "SALES", "CREATE", "LEAD", true},
		{"SALES:CREATE:LEAD", "SALES", "CREATE", "QUOTE", false},
		{"SALES:CREATE:LEAD", "SALES", "CREATE", "", false},
		{"SALES:CREATE", "SALES", "CREATE", "", true},
		{"SALES:CREATE", "SALES", "CREATE", "LEAD", true},
	}
	for _, tt := range tests {
		t.Run(tt.perm+"/"+tt.module+":"+tt.action+":"+tt.resource, func(t *testing.T) {
			p, err := permission.ParseTriple(tt.perm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(tt.module, tt.action, tt.resource))
		})
	}
}

func TestEvaluateIsMonotonic(t *testing.T) {
	grants := []models.RoleGrant{{RoleID: "r1"}}
	base := map[string][]models.Permission{"r1": {storetest.Perm("SALES", "READ", "*")}}
	requests := [][3]string{
		{"SALES", "READ", "LEAD"},
		{"SALES", "UPDATE", "LEAD"},
		{"FINANCE", "READ", ""},
		{"HR", "DELETE", "EMPLOYEE"},
	}
	extra := []models.Permission{
		storetest.Perm("FINANCE", "*", "*"),
		storetest.Perm("*", "DELETE", "EMPLOYEE"),
		storetest.Perm("*", "*", "*"),
	}

	current := base["r1"]
	for _, p := range extra {
		before := map[string][]models.Permission{"r1": current}
		current = append(append([]models.Permission{}, current...), p)
		after := map[string][]models.Permission{"r1": current}
		for _, r := range requests {
			if permission.Evaluate(grants, before, r[0], r[1], r[2]) {
				assert.True(t, permission.Evaluate(grants, after, r[0], r[1], r[2]),
					"adding %s:%s:%s revoked %v", p.Module, p.Action, p.Resource, r)
			}
		}
	}
	assert.True(t, permission.Evaluate(grants, map[string][]models.Permission{"r1": current}, "HR", "DELETE", "EMPLOYEE"))
}

func newService(t *testing.T) (*permission.Service, *store.RoleStore) {
	db := storetest.Open(t)
	roles := store.NewRoleStore(db)
	return permission.NewService(roles, store.NewUserStore(db), store.NewBranchStore(db)), roles
}

func TestHasPermissionBranchScoping(t *testing.T) {
	db := storetest.Open(t)
	svc := permission.NewService(store.NewRoleStore(db), store.NewUserStore(db), store.NewBranchStore(db))
	ctx := t.Context()

	b := storetest.Branch(t, db, "B")
	c := storetest.Branch(t, db, "C")
	u := storetest.User(t, db, "clerk")
	sales := storetest.Role(t, db, "SALES_CLERK", storetest.Perm("SALES", "CREATE", "LEAD"))
	viewer := storetest.Role(t, db, "REPORT_VIEWER", storetest.Perm("REPORTS", "READ", "*"))
	storetest.Assign(t, db, u.ID, sales.ID, b.ID)
	storetest.Assign(t, db, u.ID, viewer.ID, "")

	ok, err := svc.HasPermission(ctx, u.ID, "sales", "create", "lead", b.ID)
	require.NoError(t, err)
	assert.True(t, ok, "branch B assignment applies in B")

	ok, err = svc.HasPermission(ctx, u.ID, "SALES", "CREATE", "LEAD", c.ID)
	require.NoError(t, err)
	assert.False(t, ok, "branch B assignment must not leak to C")

	ok, err = svc.HasPermission(ctx, u.ID, "SALES", "CREATE", "LEAD", "")
	require.NoError(t, err)
	assert.True(t, ok, "no branch filter considers every assignment")

	ok, err = svc.HasPermission(ctx, u.ID, "REPORTS", "READ", "", c.ID)
	require.NoError(t, err)
	assert.True(t, ok, "global assignment applies everywhere")

	_, err = svc.HasPermission(ctx, u.ID, "", "READ", "", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestHasGlobalPermissionIgnoresBranchEdges(t *testing.T) {
	db := storetest.Open(t)
	svc := permission.NewService(store.NewRoleStore(db), store.NewUserStore(db), store.NewBranchStore(db))
	ctx := t.Context()

	b := storetest.Branch(t, db, "B")
	u := storetest.User(t, db, "branch-admin")
	admin := storetest.Role(t, db, "BRANCH_ADMIN", storetest.Perm("ADMIN", "*", "*"))
	storetest.Assign(t, db, u.ID, admin.ID, b.ID)

	ok, err := svc.HasPermission(ctx, u.ID, "ADMIN", "UPDATE", "USER", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasGlobalPermission(ctx, u.ID, "ADMIN", "UPDATE", "USER")
	require.NoError(t, err)
	assert.False(t, ok, "a branch edge grants nothing globally")

	reader := storetest.Role(t, db, "USER_READER", storetest.Perm("ADMIN", "READ", "USER"))
	storetest.Assign(t, db, u.ID, reader.ID, "")
	ok, err = svc.HasGlobalPermission(ctx, u.ID, "ADMIN", "READ", "USER")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasGlobalPermission(ctx, u.ID, "ADMIN", "UPDATE", "USER")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionModuleWildcard(t *testing.T) {
	db := storetest.Open(t)
	svc := permission.NewService(store.NewRoleStore(db), store.NewUserStore(db), store.NewBranchStore(db))
	ctx := t.Context()

	u := storetest.User(t, db, "manager")
	r := storetest.Role(t, db, "SALES_MANAGER", storetest.Perm("SALES", "*", "*"))
	storetest.Assign(t, db, u.ID, r.ID, "")

	ok, err := svc.HasPermission(ctx, u.ID, "SALES", "DELETE", "QUOTE", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasPermission(ctx, u.ID, "FINANCE", "READ", "INVOICE", "")
	require.NoError(t, err)
	assert.False(t, ok)

	nobody := storetest.User(t, db, "nobody")
	ok, err = svc.HasPermission(ctx, nobody.ID, "SALES", "READ", "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionIgnoresInactive(t *testing.T) {
	svc, roles := newService(t)
	db := roles.DB
	ctx := t.Context()

	u := storetest.User(t, db, "temp")
	r := storetest.Role(t, db, "TEMP", storetest.Perm("INVENTORY", "READ", ""))
	storetest.Assign(t, db, u.ID, r.ID, "")

	ok, err := svc.HasPermission(ctx, u.ID, "INVENTORY", "READ", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.RevokeRole(ctx, u.ID, r.ID, nil))
	ok, err = svc.HasPermission(ctx, u.ID, "INVENTORY", "READ", "", "")
	require.NoError(t, err)
	assert.False(t, ok, "revoked assignment must not grant")

	err = svc.RevokeRole(ctx, u.ID, r.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrRoleNotFound))
}

func TestGetUserPermissionsDeduplicates(t *testing.T) {
	svc, roles := newService(t)
	db := roles.DB
	ctx := t.Context()

	u := storetest.User(t, db, "dual")
	a := storetest.Role(t, db, "A", storetest.Perm("SALES", "READ", ""), storetest.Perm("HR", "READ", ""))
	b := storetest.Role(t, db, "B", storetest.Perm("SALES", "READ", "*"))
	storetest.Assign(t, db, u.ID, a.ID, "")
	storetest.Assign(t, db, u.ID, b.ID, "")

	got, err := svc.GetUserPermissions(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Len(t, got.Roles, 2)
	strs := make([]string, 0, len(got.Permissions))
	for _, p := range got.Permissions {
		strs = append(strs, p.String())
	}
	assert.Equal(t, []string{"HR:READ:*", "SALES:READ:*"}, strs)

	names, err := svc.RoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
	assert.False(t, permission.IsSuperAdmin(names))
}

func TestRoleAdministration(t *testing.T) {
	svc, roles := newService(t)
	db := roles.DB
	ctx := t.Context()

	role, err := svc.CreateRole(ctx, "branch manager", " Runs a branch ", []string{"sales:*", "REPORTS:READ:SALES"})
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_MANAGER", role.Name)
	assert.Equal(t, "Runs a branch", role.Description)
	assert.Len(t, role.Permissions, 2)

	_, err = svc.CreateRole(ctx, "BRANCH_MANAGER", "", nil)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = svc.CreateRole(ctx, "bad", "", []string{"SALES"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = roles.GetRoleByName(ctx, "BAD")
	assert.True(t, errors.Is(err, errors.ErrRoleNotFound), "invalid permissions must not leave a role behind")

	role, err = svc.SetRolePermissions(ctx, role.ID, []string{"SALES:READ"})
	require.NoError(t, err)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, "SALES:READ:*", role.Permissions[0].String())

	u := storetest.User(t, db, "bm")
	branch := storetest.Branch(t, db, "HQ2")
	_, err = svc.AssignRole(ctx, u.ID, role.ID, branch.ID, "admin")
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, u.ID, role.ID, "no-such-branch", "admin")
	assert.True(t, errors.Is(err, errors.ErrBranchNotFound))
	_, err = svc.AssignRole(ctx, "no-such-user", role.ID, "", "admin")
	assert.True(t, errors.Is(err, errors.ErrUserNotFound))

	err = svc.DeleteRole(ctx, role.ID)
	assert.True(t, errors.Is(err, errors.ErrRoleInUse))

	require.NoError(t, svc.RevokeRole(ctx, u.ID, role.ID, &branch.ID))
	require.NoError(t, svc.DeleteRole(ctx, role.ID))

	_, err = svc.AssignRole(ctx, u.ID, role.ID, "", "admin")
	assert.True(t, errors.Is(err, errors.ErrRoleNotFound), "inactive roles cannot be assigned")

	list, err := svc.ListRoles(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = svc.ListRoles(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpsertRoleIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := t.Context()

	first, err := svc.UpsertRole(ctx, "ACCOUNTANT", "Books", []string{"FINANCE:*", "REPORTS:READ:FINANCE"}, true)
	require.NoError(t, err)
	second, err := svc.UpsertRole(ctx, "ACCOUNTANT", "Books", []string{"FINANCE:*", "REPORTS:READ:FINANCE"}, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, first.Permissions, second.Permissions)
	assert.True(t, second.IsSystem)

	perms, err := svc.ListPermissions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, perms, 2)
}
