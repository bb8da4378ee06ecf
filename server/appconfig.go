package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/erpcore/access/utils/password"
)

// AppConfig defines application configuration loaded from files and environment.
type AppConfig struct {
	Env       string          `koanf:"env"`
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Session   SessionConfig   `koanf:"session"`
	Log       LogConfig       `koanf:"log"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // postgres or sqlite
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret     string        `koanf:"jwt_secret"`
	JWTKeyID      string        `koanf:"jwt_key_id"`
	SigningMethod string        `koanf:"signing_method"`
	Issuer        string        `koanf:"issuer"`
	Audience      string        `koanf:"audience"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	BcryptCost    int           `koanf:"bcrypt_cost"`
}

type SessionConfig struct {
	Backend       string        `koanf:"backend"` // sql, valkey or buntdb
	PurgeInterval time.Duration `koanf:"purge_interval"`
	Valkey  struct {
		Addr   string `koanf:"addr"`
		Prefix string `koanf:"prefix"`
	} `koanf:"valkey"`
	BuntDB struct {
		Path string `koanf:"path"`
	} `koanf:"buntdb"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

// BootstrapConfig names the super-admin created at startup, if any.
type BootstrapConfig struct {
	SeedRoles     bool   `koanf:"seed_roles"`
	AdminEmail    string `koanf:"admin_email"`
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

// LoadConfig reads configuration in this order, later sources winning:
// 1) <CONFIG_DIR>/config.yaml (optional, CONFIG_DIR defaults to ./config)
// 2) <CONFIG_DIR>/config.<APP_ENV>.yaml (optional), APP_ENV defaults to "local"
// 3) Environment variables with prefix ACCESS_ and __ as nested separator, e.g. ACCESS_DATABASE__DSN
func LoadConfig() (*AppConfig, error) {
	k := koanf.New(".")
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	envName := os.Getenv("APP_ENV")
	if envName == "" {
		envName = "local"
	}

	for _, name := range []string{"config.yaml", "config." + envName + ".yaml"} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// ACCESS_AUTH__JWT_SECRET -> auth.jwt_secret
	if err := k.Load(env.Provider("ACCESS_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "ACCESS_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var c AppConfig
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if c.Env == "" {
		c.Env = envName
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:access.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	if c.Auth.SigningMethod == "" {
		c.Auth.SigningMethod = "HS256"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "erp-access"
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "erp-api"
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = password.DefaultCost
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "sql"
	}
	if c.Session.PurgeInterval == 0 {
		c.Session.PurgeInterval = 10 * time.Minute
	}
	if c.Session.Valkey.Prefix == "" {
		c.Session.Valkey.Prefix = "access"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		if c.IsLocal() {
			c.Log.Format = "text"
		} else {
			c.Log.Format = "json"
		}
	}
}

// IsLocal reports whether the service runs on a developer machine or in tests.
func (c *AppConfig) IsLocal() bool {
	return c.Env == "local" || c.Env == "test"
}

// Validate rejects configurations that cannot run safely.
func (c *AppConfig) Validate() error {
	if c.Auth.JWTSecret == "" {
		if !c.IsLocal() {
			return fmt.Errorf("config: auth.jwt_secret is required in %s", c.Env)
		}
		log.Printf("config: auth.jwt_secret not set, using an insecure development secret")
		c.Auth.JWTSecret = "insecure-development-secret"
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Session.Backend {
	case "sql", "buntdb":
	case "valkey":
		if c.Session.Valkey.Addr == "" {
			return fmt.Errorf("config: session.valkey.addr is required for the valkey backend")
		}
	default:
		return fmt.Errorf("config: unsupported session.backend %q", c.Session.Backend)
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		return fmt.Errorf("config: auth.access_ttl must be shorter than auth.refresh_ttl")
	}
	return nil
}
