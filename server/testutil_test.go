package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/erpcore/access/generates"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/seed"
	"github.com/erpcore/access/store/storetest"
	"github.com/erpcore/access/utils/password"
)

const (
	testPassword  = "Ab1!xyzQ"
	adminEmail    = "root@example.com"
	adminPassword = "Root#2024pw"
)

type testEnv struct {
	srv *Server
	db  *gorm.DB
	e   *httpexpect.Expect
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestEnv starts the full router over a fresh sqlite database with the
// predefined roles and a super-admin seeded.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storetest.Open(t)
	hasher := password.NewHasher(4)
	srv := New(nil, Deps{
		DB:     db,
		Tokens: generates.NewJWTAccessGenerate("test", []byte("test-secret"), jwt.SigningMethodHS256),
		Hasher: hasher,
		Logger: quietLogger(),
	})

	ctx := t.Context()
	_, err := seed.Roles(ctx, srv.Perms)
	require.NoError(t, err)
	_, err = seed.Admin(ctx, srv.Users, srv.Perms, hasher, seed.AdminAccount{Email: adminEmail, Password: adminPassword})
	require.NoError(t, err)

	ts := httptest.NewServer(NewGinEngine(srv))
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, db: db, e: httpexpect.Default(t, ts.URL)}
}

func (env *testEnv) register(username string) string {
	return env.e.POST("/api/v1/auth/register").
		WithJSON(map[string]string{
			"email":    username + "@example.com",
			"username": username,
			"password": testPassword,
		}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().Value("data").Object().Value("id").String().Raw()
}

func (env *testEnv) login(identifier, pw string) string {
	return env.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{"identifier": identifier, "password": pw}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("access_token").String().Raw()
}

func (env *testEnv) adminToken() string {
	return env.login(adminEmail, adminPassword)
}

func bearer(token string) string { return "Bearer " + token }

func (env *testEnv) branch(t *testing.T, code string) *models.Branch {
	return storetest.Branch(t, env.db, code)
}
