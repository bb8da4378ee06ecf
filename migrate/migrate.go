package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// migrationsFS holds embedded SQL migrations in migrate/sql.
//
//go:embed sql/*.sql
var migrationsFS embed.FS

// Options defines how to run migrations.
type Options struct {
	Driver  string       // sqlite or postgres
	DSN     string       // e.g. file:access.db for sqlite, or a postgres URL
	Command string       // up, down, status, version, up-to, down-to, redo, reset
	Target  int64        // used with up-to/down-to
	Logger  goose.Logger // optional; *log.Logger and *logrus.Logger both fit
}

// Run opens the database described by opts and applies the command. If Driver
// or DSN are empty, it is a no-op.
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

// Apply runs a migration command on an already open database.
func Apply(db *sql.DB, driver, command string, target int64) error {
	dialect, err := Dialect(driver)
	if err != nil {
		return err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName("schema_migrations")

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
		return fmt.Errorf("unknown migration command: %s", command)
	}
}

// Dialect maps a database/sql driver name to its goose dialect.
func Dialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "pgx":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported migration driver: %s", driver)
	}
}
