// Command migrate applies the embedded schema migrations.
//
//	migrate [up|down|status|version|redo|reset|up-to N|down-to N]
//
// MIGRATE_DRIVER and MIGRATE_DSN select the database and fall back to
// ACCESS_DATABASE__DRIVER and ACCESS_DATABASE__DSN.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/migrate"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd, target, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: migrate [command] [version]: %v\n", err)
		os.Exit(2)
	}
	opts := migrate.Options{
		Driver:  firstEnv("MIGRATE_DRIVER", "ACCESS_DATABASE__DRIVER"),
		DSN:     firstEnv("MIGRATE_DSN", "ACCESS_DATABASE__DSN"),
		Command: cmd,
		Target:  target,
		Logger:  log,
	}
	if opts.Driver == "" || opts.DSN == "" {
		log.Fatal("database driver and dsn are required")
	}
	if err := migrate.Run(opts); err != nil {
		log.WithError(err).WithField("command", cmd).Fatal("migrate failed")
	}
	log.WithField("command", cmd).Info("migrate completed")
}

func parseArgs(args []string) (string, int64, error) {
	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}
	var target int64
	if len(args) > 1 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("invalid version %q", args[1])
		}
		target = n
	}
	return cmd, target, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
