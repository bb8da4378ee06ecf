// Command accessd serves the ERP access-control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	valkey "github.com/valkey-io/valkey-go"
	"gorm.io/gorm"

	"github.com/erpcore/access/migrate"
	"github.com/erpcore/access/seed"
	"github.com/erpcore/access/server"
	"github.com/erpcore/access/store"
	"github.com/erpcore/access/utils/password"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "accessd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	logger := server.NewLogger(cfg.Log, os.Stdout)

	db, err := store.Open(store.DBOptions{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logger.WithError(err).Warn("close database")
		}
	}()
	if cfg.Database.AutoMigrate {
		if err := migrateAndSeed(db, cfg.Database.Driver, logger); err != nil {
			return err
		}
	}

	sessions, err := openSessions(cfg.Session, db)
	if err != nil {
		return err
	}
	defer sessions.Close()

	tokens, err := server.NewTokenGenerator(cfg.Auth)
	if err != nil {
		return err
	}
	hasher := password.NewHasher(cfg.Auth.BcryptCost)
	srv := server.New(cfg, server.Deps{
		DB:       db,
		Sessions: sessions,
		Tokens:   tokens,
		Hasher:   hasher,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, srv, hasher, cfg.Bootstrap); err != nil {
		return err
	}
	if purger, ok := sessions.(store.Purger); ok {
		janitor, err := newJanitor(cfg.Session, purger, logger)
		if err != nil {
			return err
		}
		go janitor.Run(ctx)
	}

	logger.WithFields(logrus.Fields{
		"env":      cfg.Env,
		"db":       cfg.Database.Driver,
		"sessions": cfg.Session.Backend,
	}).Info("accessd starting")
	return srv.ListenAndServe(ctx)
}

func migrateAndSeed(db *gorm.DB, driver string, logger *logrus.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := migrate.Apply(sqlDB, driver, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := seed.Apply(sqlDB, driver, "up", 0); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("database migrated")
	return nil
}

func openSessions(cfg server.SessionConfig, db *gorm.DB) (store.SessionStore, error) {
	switch cfg.Backend {
	case "valkey":
		s, err := store.NewValkeySessionStore(cfg.Valkey.Addr, cfg.Valkey.Prefix+":")
		if err != nil {
			return nil, fmt.Errorf("valkey sessions: %w", err)
		}
		return s, nil
	case "buntdb":
		path := cfg.BuntDB.Path
		if path == "" {
			path = "sessions.db"
		}
		s, err := store.NewBuntSessionStore(path)
		if err != nil {
			return nil, fmt.Errorf("buntdb sessions: %w", err)
		}
		return s, nil
	default:
		return store.NewSQLSessionStore(db), nil
	}
}

// newJanitor coordinates purging through valkey when an address is configured.
func newJanitor(cfg server.SessionConfig, purger store.Purger, logger *logrus.Logger) (*store.SessionJanitor, error) {
	j := &store.SessionJanitor{Purger: purger, Interval: cfg.PurgeInterval, Log: logger.WithField("job", "session-purge")}
	if cfg.Valkey.Addr == "" {
		return j, nil
	}
	cli, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}, DisableCache: true})
	if err != nil {
		return nil, fmt.Errorf("janitor lock: %w", err)
	}
	j.Lock = store.NewLeaderLock(cli, cfg.Valkey.Prefix+":lock:session-purge", 3*cfg.PurgeInterval, logger)
	return j, nil
}

func bootstrap(ctx context.Context, srv *server.Server, hasher *password.Hasher, cfg server.BootstrapConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if cfg.SeedRoles {
		roles, err := seed.Roles(ctx, srv.Perms)
		if err != nil {
			return err
		}
		srv.Logger.WithField("roles", len(roles)).Info("predefined roles seeded")
	}
	u, err := seed.Admin(ctx, srv.Users, srv.Perms, hasher, seed.AdminAccount{
		Email:    cfg.AdminEmail,
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		return err
	}
	if u != nil {
		srv.Logger.WithField("user_id", u.ID).Info("bootstrap admin ready")
	}
	return nil
}
