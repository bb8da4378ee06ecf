package server

import (
	"net/http"
	"testing"

	"github.com/gavv/httpexpect/v2"
)

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.e.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object().Value("status").IsEqual("ok")

	env.login(adminEmail, adminPassword)
	env.e.GET("/metrics").Expect().Status(http.StatusOK).
		Body().Contains("access_logins_total")
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)
	e := env.e

	id := env.register("alice")

	e.POST("/api/v1/auth/register").
		WithJSON(map[string]string{"email": "ALICE@example.com", "username": "alice2", "password": testPassword}).
		Expect().Status(http.StatusConflict).
		JSON().Object().Value("error").Object().Value("code").IsEqual("CONFLICT")

	weak := e.POST("/api/v1/auth/register").
		WithJSON(map[string]string{"email": "w@example.com", "username": "weak", "password": "short"}).
		Expect().Status(http.StatusBadRequest).
		JSON().Object()
	weak.Value("success").IsEqual(false)
	weak.Value("error").Object().Value("code").IsEqual("WEAK_PASSWORD")
	weak.Value("error").Object().Value("details").Array().NotEmpty()

	login := e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"email": "alice@example.com", "password": testPassword}).
		Expect().Status(http.StatusOK)
	login.Header("Cache-Control").IsEqual("no-store")
	data := login.JSON().Object().Value("data").Object()
	data.Value("token_type").IsEqual("Bearer")
	data.Value("refresh_token").String().NotEmpty()
	data.Value("user").Object().Value("id").IsEqual(id)
	data.Value("user").Object().NotContainsKey("password_hash")
	token := data.Value("access_token").String().Raw()

	me := e.GET("/api/v1/auth/me").WithHeader("Authorization", bearer(token)).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object()
	me.Value("user").Object().Value("username").IsEqual("alice")
	me.Value("roles").Array().IsEmpty()

	e.GET("/api/v1/auth/status").Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("authenticated").IsEqual(false)
	e.GET("/api/v1/auth/status").WithHeader("Authorization", bearer(token)).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("authenticated").IsEqual(true)

	e.GET("/api/v1/auth/me").Expect().Status(http.StatusUnauthorized).
		JSON().Object().Value("error").Object().Value("code").IsEqual("UNAUTHORIZED")
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.register("alice")

	wrong := env.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"identifier": "alice", "password": "Wrong#123x"}).
		Expect().Status(http.StatusUnauthorized).JSON().Object().Value("error").Object()
	unknown := env.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"identifier": "nobody", "password": "Wrong#123x"}).
		Expect().Status(http.StatusUnauthorized).JSON().Object().Value("error").Object()

	wrong.Value("code").IsEqual(unknown.Value("code").Raw())
	wrong.Value("message").IsEqual(unknown.Value("message").Raw())

	env.e.POST("/api/v1/auth/login").WithJSON(map[string]string{"password": "x"}).
		Expect().Status(http.StatusBadRequest).
		JSON().Object().Value("error").Object().Value("code").IsEqual("VALIDATION_ERROR")
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.register("alice")
	e := env.e

	first := e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"identifier": "alice", "password": testPassword}).
		Expect().Status(http.StatusOK).JSON().Object().Value("data").Object()
	refresh := first.Value("refresh_token").String().Raw()

	e.POST("/api/v1/auth/refresh").WithJSON(map[string]string{"refresh_token": first.Value("access_token").String().Raw()}).
		Expect().Status(http.StatusUnauthorized).
		JSON().Object().Value("error").Object().Value("code").IsEqual("INVALID_REFRESH_TOKEN")

	next := e.POST("/api/v1/auth/refresh").WithJSON(map[string]string{"refresh_token": refresh}).
		Expect().Status(http.StatusOK).JSON().Object().Value("data").Object()
	next.Value("session_id").IsEqual(first.Value("session_id").Raw())
	token := next.Value("access_token").String().Raw()

	e.POST("/api/v1/auth/logout").WithHeader("Authorization", bearer(token)).
		Expect().Status(http.StatusOK)
	e.GET("/api/v1/auth/me").WithHeader("Authorization", bearer(token)).
		Expect().Status(http.StatusUnauthorized)
	e.POST("/api/v1/auth/refresh").WithJSON(map[string]string{"refresh_token": refresh}).
		Expect().Status(http.StatusUnauthorized)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	env.register("alice")
	e := env.e

	t1 := env.login("alice", testPassword)
	t2 := env.login("alice", testPassword)

	e.GET("/api/v1/auth/sessions").WithHeader("Authorization", bearer(t1)).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().IsEqual(2)

	e.POST("/api/v1/auth/change-password").WithHeader("Authorization", bearer(t1)).
		WithJSON(map[string]string{"current_password": "Nope#1234", "new_password": "New#pass99"}).
		Expect().Status(http.StatusUnauthorized)

	e.POST("/api/v1/auth/change-password").WithHeader("Authorization", bearer(t1)).
		WithJSON(map[string]string{"current_password": testPassword, "new_password": "New#pass99"}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("revoked_sessions").IsEqual(1)

	e.GET("/api/v1/auth/me").WithHeader("Authorization", bearer(t2)).Expect().Status(http.StatusUnauthorized)
	e.GET("/api/v1/auth/me").WithHeader("Authorization", bearer(t1)).Expect().Status(http.StatusOK)

	e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"identifier": "alice", "password": testPassword}).
		Expect().Status(http.StatusUnauthorized)
	t3 := env.login("alice", "New#pass99")

	e.POST("/api/v1/auth/logout-all").WithHeader("Authorization", bearer(t3)).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("revoked").IsEqual(2)
	e.GET("/api/v1/auth/me").WithHeader("Authorization", bearer(t1)).Expect().Status(http.StatusUnauthorized)
}

func TestRoleAdministration(t *testing.T) {
	env := newTestEnv(t)
	e := env.e
	admin := env.adminToken()
	auth := func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(admin)) }
	e = e.Builder(auth)

	aliceID := env.register("alice")
	alice := env.login("alice", testPassword)
	b := env.branch(t, "B")
	c := env.branch(t, "C")

	e.GET("/api/v1/rbac/roles").Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().IsEqual(8)

	role := e.POST("/api/v1/rbac/roles").
		WithJSON(map[string]interface{}{"name": "regional_sales", "permissions": []string{"SALES:READ", "sales:create:quotation"}}).
		Expect().Status(http.StatusCreated).
		JSON().Object().Value("data").Object()
	role.Value("name").IsEqual("REGIONAL_SALES")
	role.Value("permissions").Array().ContainsOnly("SALES:READ:*", "SALES:CREATE:QUOTATION")
	roleID := role.Value("id").String().Raw()

	e.POST("/api/v1/rbac/roles").WithJSON(map[string]interface{}{"name": "REGIONAL_SALES"}).
		Expect().Status(http.StatusConflict)
	e.POST("/api/v1/rbac/roles").WithJSON(map[string]interface{}{"name": "BROKEN", "permissions": []string{"sales"}}).
		Expect().Status(http.StatusBadRequest).
		JSON().Object().Value("error").Object().Value("code").IsEqual("VALIDATION_ERROR")

	e.POST("/api/v1/rbac/users/{id}/roles", aliceID).
		WithJSON(map[string]string{"role_id": roleID, "branch_id": b.ID}).
		Expect().Status(http.StatusCreated)

	check := func(branchID string) *httpexpect.Value {
		return e.POST("/api/v1/rbac/check").
			WithJSON(map[string]string{"user_id": aliceID, "module": "sales", "action": "read", "branch_id": branchID}).
			Expect().Status(http.StatusOK).
			JSON().Object().Value("data").Object().Value("allowed")
	}
	check(b.ID).IsEqual(true)
	check(c.ID).IsEqual(false)

	perms := e.GET("/api/v1/rbac/users/{id}/permissions", aliceID).
		Expect().Status(http.StatusOK).JSON().Object().Value("data").Object()
	perms.Value("permissions").Array().ContainsAll("SALES:READ:*")
	e.GET("/api/v1/rbac/users/{id}/branches", aliceID).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("branches").Array().ContainsOnly(b.ID)

	env.e.GET("/api/v1/rbac/roles").WithHeader("Authorization", bearer(alice)).
		Expect().Status(http.StatusForbidden).
		JSON().Object().Value("error").Object().Value("code").IsEqual("FORBIDDEN")

	e.DELETE("/api/v1/rbac/roles/{id}", roleID).
		Expect().Status(http.StatusBadRequest).
		JSON().Object().Value("error").Object().Value("code").IsEqual("ROLE_IN_USE")

	e.DELETE("/api/v1/rbac/users/{u}/roles/{r}", aliceID, roleID).WithQuery("branchId", b.ID).
		Expect().Status(http.StatusOK)
	check(b.ID).IsEqual(false)
	e.DELETE("/api/v1/rbac/users/{u}/roles/{r}", aliceID, roleID).
		Expect().Status(http.StatusNotFound).
		JSON().Object().Value("error").Object().Value("code").IsEqual("ROLE_NOT_FOUND")

	e.PUT("/api/v1/rbac/roles/{id}/permissions", roleID).
		WithJSON(map[string]interface{}{"permissions": []string{"SALES:*"}}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("permissions").Array().ContainsOnly("SALES:*:*")

	e.DELETE("/api/v1/rbac/roles/{id}", roleID).Expect().Status(http.StatusOK)
	e.GET("/api/v1/rbac/roles").WithQuery("include_inactive", "true").
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().IsEqual(9)

	e.POST("/api/v1/rbac/users/{id}/roles", aliceID).
		WithJSON(map[string]string{"role_name": "super_admin"}).
		Expect().Status(http.StatusCreated)
	env.e.GET("/api/v1/rbac/roles").WithHeader("Authorization", bearer(alice)).
		Expect().Status(http.StatusOK)
}

func TestSystemRolesAreProtected(t *testing.T) {
	env := newTestEnv(t)
	e := env.e.Builder(func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(env.adminToken())) })

	var viewerID string
	roles := e.GET("/api/v1/rbac/roles").Expect().Status(http.StatusOK).JSON().Object().Value("data").Array()
	for _, v := range roles.Iter() {
		if v.Object().Value("name").String().Raw() == "VIEWER" {
			viewerID = v.Object().Value("id").String().Raw()
		}
	}
	if viewerID == "" {
		t.Fatal("VIEWER role not seeded")
	}

	e.PUT("/api/v1/rbac/roles/{id}", viewerID).WithJSON(map[string]interface{}{"is_active": false}).
		Expect().Status(http.StatusForbidden)

	e.POST("/api/v1/rbac/seed").Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().IsEqual(8)
}

func TestPermissionCatalogue(t *testing.T) {
	env := newTestEnv(t)
	e := env.e.Builder(func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(env.adminToken())) })

	e.POST("/api/v1/rbac/permissions").
		WithJSON(map[string]string{"module": "hr", "action": "approve", "resource": "leave", "description": "Approve leave"}).
		Expect().Status(http.StatusCreated).
		JSON().Object().Value("data").Object().Value("permission").IsEqual("HR:APPROVE:LEAVE")

	e.GET("/api/v1/rbac/permissions").WithQuery("module", "HR").
		Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().Gt(0)

	e.POST("/api/v1/rbac/permissions").WithJSON(map[string]string{"permission": "not-a-permission"}).
		Expect().Status(http.StatusBadRequest)
}

func TestBranchListingIsFiltered(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	e := env.e.Builder(func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(admin)) })

	bobID := env.register("bob")
	b := env.branch(t, "B")
	c := env.branch(t, "C")
	env.branch(t, "D")

	roleID := e.POST("/api/v1/rbac/roles").
		WithJSON(map[string]interface{}{"name": "BRANCH_VIEWER", "permissions": []string{"ADMIN:READ:BRANCH"}}).
		Expect().Status(http.StatusCreated).
		JSON().Object().Value("data").Object().Value("id").String().Raw()
	for _, id := range []string{b.ID, c.ID} {
		e.POST("/api/v1/rbac/users/{id}/roles", bobID).
			WithJSON(map[string]string{"role_id": roleID, "branch_id": id}).
			Expect().Status(http.StatusCreated)
	}

	bob := env.login("bob", testPassword)
	list := func(token string) *httpexpect.Array {
		return env.e.GET("/api/v1/branches").WithHeader("Authorization", bearer(token)).
			Expect().Status(http.StatusOK).
			JSON().Object().Value("data").Array()
	}
	list(bob).Length().IsEqual(2)
	list(admin).Length().IsEqual(3)

	env.e.PUT("/api/v1/branches/{id}/active", c.ID).WithHeader("Authorization", bearer(bob)).
		WithJSON(map[string]bool{"is_active": false}).
		Expect().Status(http.StatusForbidden)
	e.PUT("/api/v1/branches/{id}/active", c.ID).WithJSON(map[string]bool{"is_active": false}).
		Expect().Status(http.StatusOK)
	e.PUT("/api/v1/branches/{id}/active", "missing").WithJSON(map[string]bool{"is_active": false}).
		Expect().Status(http.StatusNotFound)

	names := list(bob)
	names.Length().IsEqual(1)
	names.Value(0).Object().Value("code").IsEqual("B")
}

func TestBranchAdminCannotEscalate(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	root := env.e.Builder(func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(admin)) })

	daveID := env.register("dave")
	erinID := env.register("erin")
	b := env.branch(t, "B")
	c := env.branch(t, "C")

	roleID := root.POST("/api/v1/rbac/roles").
		WithJSON(map[string]interface{}{"name": "BRANCH_ADMIN", "permissions": []string{"ADMIN:*"}}).
		Expect().Status(http.StatusCreated).
		JSON().Object().Value("data").Object().Value("id").String().Raw()
	root.POST("/api/v1/rbac/users/{id}/roles", daveID).
		WithJSON(map[string]string{"role_id": roleID, "branch_id": b.ID}).
		Expect().Status(http.StatusCreated)

	daveToken := env.login("dave", testPassword)
	dave := env.e.Builder(func(r *httpexpect.Request) { r.WithHeader("Authorization", bearer(daveToken)) })
	denied := func(req *httpexpect.Request) {
		req.Expect().Status(http.StatusForbidden).
			JSON().Object().Value("error").Object().Value("code").IsEqual("FORBIDDEN")
	}

	// SUPER_ADMIN is granted by super-admins only, in any scope
	denied(dave.POST("/api/v1/rbac/users/{id}/roles", daveID).WithJSON(map[string]string{"role_name": "SUPER_ADMIN"}))
	denied(dave.POST("/api/v1/rbac/users/{id}/roles", daveID).WithHeader("X-Branch-Id", b.ID).
		WithJSON(map[string]string{"role_name": "SUPER_ADMIN"}))
	denied(dave.POST("/api/v1/rbac/users/{id}/roles", daveID).
		WithJSON(map[string]string{"role_name": "super_admin", "branch_id": b.ID}))

	// a global edge needs a global grant; other branches are out of reach
	denied(dave.POST("/api/v1/rbac/users/{id}/roles", daveID).WithHeader("X-Branch-Id", b.ID).
		WithJSON(map[string]string{"role_id": roleID}))
	denied(dave.POST("/api/v1/rbac/users/{id}/roles", erinID).WithQuery("branchId", b.ID).
		WithJSON(map[string]string{"role_name": "VIEWER", "branch_id": c.ID}))

	viewer := dave.POST("/api/v1/rbac/users/{id}/roles", erinID).
		WithJSON(map[string]string{"role_name": "VIEWER", "branch_id": b.ID}).
		Expect().Status(http.StatusCreated).
		JSON().Object().Value("data").Object()
	viewer.Value("branch_id").IsEqual(b.ID)
	viewerID := viewer.Value("role_id").String().Raw()

	denied(dave.DELETE("/api/v1/rbac/users/{u}/roles/{r}", erinID, viewerID))
	dave.DELETE("/api/v1/rbac/users/{u}/roles/{r}", erinID, viewerID).WithQuery("branchId", b.ID).
		Expect().Status(http.StatusOK)

	// shared catalogues ignore the branch the caller names
	denied(dave.GET("/api/v1/rbac/roles").WithHeader("X-Branch-Id", b.ID))
	denied(dave.POST("/api/v1/rbac/roles").WithQuery("branchId", b.ID).
		WithJSON(map[string]interface{}{"name": "OWNED", "permissions": []string{"*:*"}}))
	denied(dave.POST("/api/v1/rbac/seed").WithHeader("X-Branch-Id", b.ID))
	denied(dave.GET("/api/v1/rbac/permissions").WithHeader("X-Branch-Id", b.ID))

	dave.GET("/api/v1/auth/me").Expect().Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("roles").Array().ContainsOnly("BRANCH_ADMIN")
}
