package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/erpcore/access/branch"
	"github.com/erpcore/access/generates"
	"github.com/erpcore/access/manage"
	"github.com/erpcore/access/permission"
	"github.com/erpcore/access/store"
	"github.com/erpcore/access/utils/password"
)

// Deps are the long-lived handles the server is built from.
type Deps struct {
	DB       *gorm.DB
	Sessions store.SessionStore
	Tokens   *generates.JWTAccessGenerate
	Hasher   *password.Hasher
	Logger   *logrus.Logger
	Metrics  *Metrics
}

// Server wires stores, services and the HTTP gate together.
type Server struct {
	Config   *AppConfig
	DB       *gorm.DB
	Users    *store.UserStore
	Roles    *store.RoleStore
	Branches *store.BranchStore
	Perms    *permission.Service
	Resolver *branch.Resolver
	Manager  *manage.Manager
	Gate     *Gate
	Metrics  *Metrics
	Logger   *logrus.Logger

	httpServer *http.Server
}

// New builds a Server. cfg may be nil in tests.
func New(cfg *AppConfig, d Deps) *Server {
	if cfg == nil {
		cfg = &AppConfig{Env: "test"}
		cfg.applyDefaults()
	}
	if d.Logger == nil {
		d.Logger = NewLogger(cfg.Log, nil)
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.Hasher == nil {
		d.Hasher = password.NewHasher(cfg.Auth.BcryptCost)
	}
	if d.Sessions == nil {
		d.Sessions = store.NewSQLSessionStore(d.DB)
	}

	users := store.NewUserStore(d.DB)
	roles := store.NewRoleStore(d.DB)
	branches := store.NewBranchStore(d.DB)
	perms := permission.NewService(roles, users, branches)
	resolver := branch.NewResolver(roles, branches)
	mgr := manage.NewManager(users, d.Sessions, d.Tokens, d.Hasher, perms, d.Logger)

	return &Server{
		Config:   cfg,
		DB:       d.DB,
		Users:    users,
		Roles:    roles,
		Branches: branches,
		Perms:    perms,
		Resolver: resolver,
		Manager:  mgr,
		Gate:     NewGate(mgr, perms, resolver, d.Logger, d.Metrics),
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	}
}

// ListenAndServe serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Config.HTTP.Addr,
		Handler:      NewGinEngine(s),
		ReadTimeout:  s.Config.HTTP.ReadTimeout,
		WriteTimeout: s.Config.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.WithField("addr", s.Config.HTTP.Addr).Info("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.HTTP.ShutdownTimeout)
	defer cancel()
	s.Logger.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// NewTokenGenerator builds the JWT issuer from cfg. HMAC methods use the
// secret as-is; other methods read a PEM key from the secret or, when the
// secret names a file, from that file.
func NewTokenGenerator(cfg AuthConfig) (*generates.JWTAccessGenerate, error) {
	method := jwt.GetSigningMethod(strings.ToUpper(cfg.SigningMethod))
	if strings.EqualFold(cfg.SigningMethod, "EdDSA") {
		method = jwt.SigningMethodEdDSA
	}
	if method == nil {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}
	key := []byte(cfg.JWTSecret)
	if !strings.HasPrefix(method.Alg(), "HS") && !strings.Contains(cfg.JWTSecret, "-----BEGIN") {
		pem, err := os.ReadFile(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		key = pem
	}
	return generates.NewJWTAccessGenerate(cfg.JWTKeyID, key, method,
		generates.WithIssuer(cfg.Issuer),
		generates.WithAudience(cfg.Audience),
		generates.WithAccessTTL(cfg.AccessTTL),
		generates.WithRefreshTTL(cfg.RefreshTTL),
		generates.WithClock(time.Now),
	), nil
}
