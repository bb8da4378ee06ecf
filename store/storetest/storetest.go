// Package storetest opens throwaway, fully migrated databases for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/erpcore/access/migrate"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/store"
)

// Open returns a gorm handle on a fresh sqlite file migrated with the real
// schema. The file lives in t.TempDir and is closed on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.db")
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.Apply(sqlDB, "sqlite", "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := store.OpenSQLite(sqlDB, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return db
}

// User inserts an active user with a placeholder hash.
func User(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehol",
		IsActive:     true,
	}
	if err := store.NewUserStore(db).Create(t.Context(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// Branch inserts an active branch.
func Branch(t testing.TB, db *gorm.DB, code string) *models.Branch {
	t.Helper()
	b, err := store.NewBranchStore(db).UpsertBranch(t.Context(), models.Branch{Code: code, Name: "Branch " + code})
	if err != nil {
		t.Fatalf("create branch %s: %v", code, err)
	}
	return b
}

// Role inserts an active role holding the given permissions.
func Role(t testing.TB, db *gorm.DB, name string, perms ...models.Permission) *models.Role {
	t.Helper()
	ctx := t.Context()
	rs := store.NewRoleStore(db)
	r, err := rs.UpsertRole(ctx, models.Role{Name: name})
	if err != nil {
		t.Fatalf("create role %s: %v", name, err)
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		saved, err := rs.UpsertPermission(ctx, p)
		if err != nil {
			t.Fatalf("create permission %+v: %v", p, err)
		}
		ids = append(ids, saved.ID)
	}
	if err := rs.SetRolePermissions(ctx, r.ID, ids); err != nil {
		t.Fatalf("set permissions of %s: %v", name, err)
	}
	return r
}

// Assign gives userID roleID, globally when branchID is "".
func Assign(t testing.TB, db *gorm.DB, userID, roleID, branchID string) {
	t.Helper()
	if _, err := store.NewRoleStore(db).AssignRole(t.Context(), userID, roleID, branchID, ""); err != nil {
		t.Fatalf("assign role: %v", err)
	}
}

// Perm builds a permission triple; an empty resource means any.
func Perm(module, action, resource string) models.Permission {
	return models.Permission{Module: module, Action: action, Resource: resource}
}
