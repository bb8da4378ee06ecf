package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/manage"
	"github.com/erpcore/access/models"
)

type fakeAuth map[string]struct {
	id  *manage.Identity
	err error
}

func (f fakeAuth) Authenticate(_ context.Context, token string) (*manage.Identity, error) {
	r, ok := f[token]
	if !ok {
		return nil, errors.ErrTokenInvalid
	}
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.id
	return &cp, nil
}

// fakePerms grants exactly the keys in allow and records the branch of each
// call. Global checks consult global and record "*".
type fakePerms struct {
	allow    map[string]bool
	global   map[string]bool
	err      error
	branches []string
}

func (f *fakePerms) HasGlobalPermission(_ context.Context, userID, module, action, resource string) (bool, error) {
	f.branches = append(f.branches, "*")
	if f.err != nil {
		return false, f.err
	}
	return f.global[userID+"|"+module+":"+action+":"+resource], nil
}

func (f *fakePerms) HasPermission(_ context.Context, userID, module, action, resource, branchID string) (bool, error) {
	f.branches = append(f.branches, branchID)
	if f.err != nil {
		return false, f.err
	}
	return f.allow[userID+"|"+module+":"+action+":"+resource], nil
}

type fakeBranches map[string][]string

func (f fakeBranches) AccessibleBranches(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

type envelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newGateRouter(g *Gate, authorize gin.HandlerFunc, path string) *gin.Engine {
	r := gin.New()
	h := func(c *gin.Context) {
		respond(c, http.StatusOK, identityFrom(c))
	}
	if authorize != nil {
		r.GET(path, g.Authenticate(), authorize, h)
	} else {
		r.GET(path, g.Authenticate(), h)
	}
	return r
}

func do(r http.Handler, path, token string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", bearer(token))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func testGate(perms *fakePerms) *Gate {
	auth := fakeAuth{
		"alice":   {id: &manage.Identity{UserID: "u-alice", Roles: []string{"SALES_EXECUTIVE"}, SessionID: "s1"}},
		"root":    {id: &manage.Identity{UserID: "u-root", Roles: []string{models.SuperAdminRole}, SessionID: "s2"}},
		"expired": {err: fmt.Errorf("%w: exp", errors.ErrTokenExpired)},
		"revoked": {err: errors.ErrSessionNotFound},
		"broken":  {err: fmt.Errorf("dial tcp: connection refused")},
	}
	return NewGate(auth, perms, fakeBranches{"u-alice": {"b-1"}, "u-root": {"b-1", "b-2"}}, quietLogger(), NewMetrics())
}

func TestAuthenticateRejections(t *testing.T) {
	g := testGate(&fakePerms{})
	r := newGateRouter(g, nil, "/x")

	cases := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown", "garbage", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "expired", http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"revoked session", "revoked", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"backend failure", "broken", http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, "/x", tc.token, nil)
			assert.Equal(t, tc.status, w.Code)
			env := decode(t, w)
			assert.False(t, env.Success)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestAuthenticateAttachesIdentity(t *testing.T) {
	g := testGate(&fakePerms{})
	r := gin.New()
	r.GET("/x", g.Authenticate(), func(c *gin.Context) {
		id := manage.IdentityFromContext(c.Request.Context())
		require.NotNil(t, id)
		assert.Equal(t, "u-alice", id.UserID)
		assert.Same(t, id, IdentityFrom(c))
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, do(r, "/x", "alice", nil).Code)
}

func TestOptionalAuthenticate(t *testing.T) {
	g := testGate(&fakePerms{})
	r := gin.New()
	r.GET("/x", g.OptionalAuthenticate(), func(c *gin.Context) {
		if identityFrom(c) == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, identityFrom(c).UserID)
	})

	assert.Equal(t, "anonymous", do(r, "/x", "", nil).Body.String())
	assert.Equal(t, "anonymous", do(r, "/x", "expired", nil).Body.String())
	assert.Equal(t, "u-alice", do(r, "/x", "alice", nil).Body.String())

	w := do(r, "/x", "broken", nil)
	assert.Equal(t, http.StatusOK, w.Code, "backend failures fall back to anonymous")
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestAuthorize(t *testing.T) {
	perms := &fakePerms{allow: map[string]bool{"u-alice|SALES:READ:": true}}
	g := testGate(perms)

	t.Run("granted attaches branches", func(t *testing.T) {
		r := newGateRouter(g, g.Authorize("SALES", "READ"), "/x")
		w := do(r, "/x", "alice", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data manage.Identity `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, []string{"b-1"}, body.Data.AccessibleBranches)
	})

	t.Run("denied", func(t *testing.T) {
		r := newGateRouter(g, g.Authorize("FINANCE", "READ"), "/x")
		w := do(r, "/x", "alice", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", decode(t, w).Error.Code)
	})

	t.Run("super admin bypass", func(t *testing.T) {
		r := newGateRouter(g, g.Authorize("FINANCE", "APPROVE"), "/x")
		w := do(r, "/x", "root", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data manage.Identity `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Data.AccessibleBranches, 2)
	})

	t.Run("bypass disabled", func(t *testing.T) {
		off := false
		r := newGateRouter(g, g.Authorize("FINANCE", "APPROVE", AuthorizeOptions{AllowSuperAdmin: &off}), "/x")
		assert.Equal(t, http.StatusForbidden, do(r, "/x", "root", nil).Code)
	})

	t.Run("checker failure", func(t *testing.T) {
		broken := testGate(&fakePerms{err: fmt.Errorf("db down")})
		r := newGateRouter(broken, broken.Authorize("SALES", "READ"), "/x")
		assert.Equal(t, http.StatusInternalServerError, do(r, "/x", "alice", nil).Code)
	})
}

func TestAuthorizeBranchSource(t *testing.T) {
	perms := &fakePerms{allow: map[string]bool{"u-alice|SALES:READ:": true}}
	g := testGate(perms)
	r := gin.New()
	h := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/b/:branchId", g.Authenticate(), g.Authorize("SALES", "READ"), h)
	r.GET("/q", g.Authenticate(), g.Authorize("SALES", "READ"), h)
	r.GET("/w/:warehouse", g.Authenticate(), g.Authorize("SALES", "READ", AuthorizeOptions{BranchParam: "warehouse"}), h)

	hdr := map[string]string{branchHeader: "from-header"}
	do(r, "/b/from-path?branchId=from-query", "alice", hdr)
	do(r, "/q?branchId=from-query", "alice", hdr)
	do(r, "/q", "alice", hdr)
	do(r, "/q", "alice", nil)
	do(r, "/w/from-custom", "alice", nil)

	assert.Equal(t, []string{"from-path", "from-query", "from-header", "", "from-custom"}, perms.branches)
}

func TestAuthorizeGlobalIgnoresRequestBranch(t *testing.T) {
	perms := &fakePerms{
		allow:  map[string]bool{"u-alice|ADMIN:UPDATE:ROLE": true},
		global: map[string]bool{"u-alice|ADMIN:READ:ROLE": true},
	}
	g := testGate(perms)
	r := gin.New()
	h := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	global := func(action string) gin.HandlerFunc {
		return g.Authorize("ADMIN", action, AuthorizeOptions{Resource: "ROLE", Global: true})
	}
	r.GET("/read/:branchId", g.Authenticate(), global("READ"), h)
	r.GET("/update/:branchId", g.Authenticate(), global("UPDATE"), h)

	hdr := map[string]string{branchHeader: "b-1"}
	assert.Equal(t, http.StatusNoContent, do(r, "/read/b-1", "alice", hdr).Code)
	// a branch-scoped grant never satisfies a global check, whatever branch the caller names
	assert.Equal(t, http.StatusForbidden, do(r, "/update/b-1?branchId=b-1", "alice", hdr).Code)
	assert.Equal(t, []string{"*", "*"}, perms.branches)

	assert.Equal(t, http.StatusNoContent, do(r, "/update/b-1", "root", nil).Code)
}
