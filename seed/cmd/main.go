// Command seed loads reference data (the headquarters branch) after migrations.
// It reads SEED_DRIVER/SEED_DSN, then MIGRATE_*, then ACCESS_DATABASE__*.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/seed"
)

func main() {
	log := logrus.New()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	driver := firstEnv("SEED_DRIVER", "MIGRATE_DRIVER", "ACCESS_DATABASE__DRIVER")
	dsn := firstEnv("SEED_DSN", "MIGRATE_DSN", "ACCESS_DATABASE__DSN")
	if driver == "" || dsn == "" {
		log.Fatal("database driver and dsn are required")
	}
	if err := seed.Run(seed.Options{Driver: driver, DSN: dsn, Command: cmd, Logger: log}); err != nil {
		log.WithError(err).Fatal("seed failed")
	}
	log.WithField("command", cmd).Info("seed completed")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
