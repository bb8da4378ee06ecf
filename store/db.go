package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DBOptions describes the relational store.
type DBOptions struct {
	Driver       string // postgres or sqlite
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     logger.LogLevel
}

// Open connects gorm to postgres, or to sqlite through the pure-Go modernc driver.
func Open(opts DBOptions) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(opts.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if opts.LogLevel == 0 {
		cfg.Logger = logger.Default.LogMode(logger.Warn)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "postgres", "pgx":
		db, err = gorm.Open(postgres.Open(opts.DSN), cfg)
	case "sqlite", "sqlite3":
		var sqlDB *sql.DB
		sqlDB, err = sql.Open("sqlite", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err = OpenSQLite(sqlDB, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	return db, nil
}

// OpenSQLite wraps an existing modernc sqlite handle in gorm.
func OpenSQLite(sqlDB *sql.DB, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }}
	}
	return gorm.Open(&sqlite.Dialector{DriverName: "sqlite", Conn: sqlDB}, cfg)
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// insertIfAbsent inserts row unless a row with the same natural key exists,
// and reports whether it wrote. Concurrent writers of one key never fail on
// the unique index; the losers read the winner's row instead.
func insertIfAbsent(tx *gorm.DB, row interface{}, key ...string) (bool, error) {
	cols := make([]clause.Column, len(key))
	for i, k := range key {
		cols[i] = clause.Column{Name: k}
	}
	res := tx.Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(row)
	return res.RowsAffected == 1, res.Error
}
