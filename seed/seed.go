package seed

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/erpcore/access/migrate"
)

// seedFS holds embedded SQL seed files in seed/sql.
//
//go:embed sql/*.sql
var seedFS embed.FS

// Options defines how to run seed migrations.
type Options struct {
	Driver  string
	DSN     string
	Command string // up, down, status, version, up-to, down-to, redo, reset
	Target  int64  // used with up-to/down-to
	Logger  goose.Logger
}

// Run executes SQL seeds based on provided options. If Driver or DSN are empty, it is a no-op.
func Run(opts Options) error {
	if strings.TrimSpace(opts.Driver) == "" || strings.TrimSpace(opts.DSN) == "" {
		return nil
	}
	if opts.Logger != nil {
		goose.SetLogger(opts.Logger)
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	return Apply(db, opts.Driver, opts.Command, opts.Target)
}

// Apply runs a seed command on an already open, migrated database. Seeds are
// tracked in their own table, apart from schema migrations.
func Apply(db *sql.DB, driver, command string, target int64) error {
	if !hasValidSeedFiles() {
		return nil
	}
	dialect, err := migrate.Dialect(driver)
	if err != nil {
		return err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetBaseFS(seedFS)
	goose.SetTableName("seed_migrations")

	dir := "sql"
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "", "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	case "version":
		return goose.Version(db, dir)
	case "up-to":
		return goose.UpTo(db, dir, target)
	case "down-to":
		return goose.DownTo(db, dir, target)
	case "redo":
		return goose.Redo(db, dir)
	case "reset":
		return goose.Reset(db, dir)
	default:
		return fmt.Errorf("unknown seed command: %s", command)
	}
}

// hasValidSeedFiles reports whether seed/sql holds at least one VERSION_name.sql file.
func hasValidSeedFiles() bool {
	entries, err := seedFS.ReadDir("sql")
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.Index(name, "_") > 0 {
			return true
		}
	}
	return false
}
