// Package manage runs the session lifecycle: login, refresh, logout, password
// change and the token-to-identity step used by the request gate.
package manage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/generates"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/store"
	"github.com/erpcore/access/utils/password"
)

// RoleResolver returns the names of a user's active roles.
type RoleResolver interface {
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// Manager ties users, sessions and tokens together.
type Manager struct {
	users    *store.UserStore
	sessions store.SessionStore
	tokens   *generates.JWTAccessGenerate
	hasher   *password.Hasher
	roles    RoleResolver
	log      *logrus.Logger

	decoyOnce sync.Once
	decoy     string

	// Now is the clock used for session expiry checks.
	Now func() time.Time
}

func NewManager(users *store.UserStore, sessions store.SessionStore, tokens *generates.JWTAccessGenerate,
	hasher *password.Hasher, roles RoleResolver, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		roles:    roles,
		log:      log,
		Now:      time.Now,
	}
}

// Sessions exposes the underlying session store.
func (m *Manager) Sessions() store.SessionStore { return m.sessions }

// LoginResult is what a successful login or refresh hands back.
type LoginResult struct {
	User    *models.User
	Session *models.Session
	Roles   []string
	Tokens  generates.TokenPair
}

// Login checks credentials and opens a session. Unknown users, inactive users
// and wrong passwords all yield ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, identifier, pw string, meta models.SessionMeta) (*LoginResult, error) {
	if strings.TrimSpace(identifier) == "" || pw == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", errors.ErrInvalidRequest)
	}
	user, err := m.users.GetByLogin(ctx, identifier)
	if errors.Is(err, errors.ErrUserNotFound) {
		// pay the same bcrypt cost as a known user
		_, _ = m.hasher.Verify(pw, m.decoyHash())
		m.log.WithField("identifier", identifier).Info("login rejected: unknown user")
		return nil, errors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := m.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok || !user.IsActive {
		m.log.WithFields(logrus.Fields{"user_id": user.ID, "active": user.IsActive}).Info("login rejected")
		return nil, errors.ErrInvalidCredentials
	}

	roles, err := m.roles.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	now := m.Now().UTC()
	sess, err := m.sessions.Create(ctx, user.ID, now.Add(m.tokens.RefreshTTL), meta)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	pair, err := m.tokens.IssuePair(generates.Principal{UserID: user.ID, Email: user.Email, Roles: roles, SessionID: sess.ID})
	if err != nil {
		_ = m.sessions.Revoke(ctx, sess.ID)
		return nil, err
	}
	if err := m.sessions.BindToken(ctx, sess.ID, pair.AccessToken); err != nil {
		if rerr := m.sessions.Revoke(ctx, sess.ID); rerr != nil {
			m.log.WithError(rerr).WithField("session_id", sess.ID).Warn("revoke unbound session")
		}
		return nil, fmt.Errorf("bind session token: %w", err)
	}
	sess.Token = pair.AccessToken
	if err := m.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		m.log.WithError(err).WithField("user_id", user.ID).Warn("update last login")
	}
	m.log.WithFields(logrus.Fields{"user_id": user.ID, "session_id": sess.ID}).Info("login")
	return &LoginResult{User: user, Session: sess, Roles: roles, Tokens: pair}, nil
}

// decoyHash is a hash at the configured cost that no password is checked against for real.
func (m *Manager) decoyHash() string {
	m.decoyOnce.Do(func() {
		h, err := m.hasher.Hash(models.NewID())
		if err != nil {
			m.log.WithError(err).Warn("decoy hash")
		}
		m.decoy = h
	})
	return m.decoy
}

// ValidateSession loads a session and its owner. The session must exist, be
// unexpired and belong to an active user.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*models.Session, *models.User, error) {
	if sessionID == "" {
		return nil, nil, errors.ErrSessionNotFound
	}
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, errors.ErrSessionNotFound
	}
	if sess.Expired(m.Now()) {
		return nil, nil, fmt.Errorf("%w: expired", errors.ErrSessionInvalid)
	}
	user, err := m.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, errors.ErrUserNotFound) {
		return nil, nil, fmt.Errorf("%w: owner missing", errors.ErrSessionInvalid)
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, fmt.Errorf("%w: owner inactive", errors.ErrSessionInvalid)
	}
	return sess, user, nil
}

// Authenticate turns an access token into an Identity. Roles come from the
// store, not the token, so revocations apply at once.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, errors.ErrUnauthorized
	}
	claims, err := m.tokens.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	sess, user, err := m.ValidateSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, fmt.Errorf("%w: session owner mismatch", errors.ErrSessionInvalid)
	}
	roles, err := m.roles.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: user.ID, Email: user.Email, Roles: roles, SessionID: sess.ID}, nil
}

// Refresh swaps a refresh token for a new pair on the same session. Failures
// other than backend errors are reported as ErrInvalidRefreshToken.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	res, err := m.refresh(ctx, refreshToken)
	if err != nil && !errors.Internal(err) {
		m.log.WithError(err).Info("refresh rejected")
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRefreshToken, err)
	}
	return res, err
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, errors.ErrUnauthorized
	}
	claims, err := m.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	sess, user, err := m.ValidateSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, fmt.Errorf("%w: session owner mismatch", errors.ErrSessionInvalid)
	}
	roles, err := m.roles.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, err := m.tokens.IssuePair(generates.Principal{UserID: user.ID, Email: user.Email, Roles: roles, SessionID: sess.ID})
	if err != nil {
		return nil, err
	}
	if err := m.sessions.Refresh(ctx, sess.ID, pair.RefreshExpiresAt, pair.AccessToken); err != nil {
		return nil, err
	}
	sess.ExpiresAt, sess.Token = pair.RefreshExpiresAt, pair.AccessToken
	return &LoginResult{User: user, Session: sess, Roles: roles, Tokens: pair}, nil
}

// Logout revokes one session.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	return m.sessions.Revoke(ctx, sessionID)
}

// LogoutAll revokes every session of userID and returns how many went.
func (m *Manager) LogoutAll(ctx context.Context, userID string) (int, error) {
	return m.sessions.RevokeAllExcept(ctx, userID, "")
}

// ListSessions returns the user's unexpired sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	all, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.Now()
	out := make([]models.Session, 0, len(all))
	for _, s := range all {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ChangePassword replaces the password after checking the current one, then
// revokes every other session of the user. It returns the number revoked.
func (m *Manager) ChangePassword(ctx context.Context, userID, sessionID, current, next string) (int, error) {
	if current == "" || next == "" {
		return 0, fmt.Errorf("%w: current and new password are required", errors.ErrInvalidRequest)
	}
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	ok, err := m.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.ErrInvalidCredentials
	}
	if res := password.CheckStrength(next); !res.Valid {
		return 0, errors.WeakPassword(res.Violations)
	}
	hash, err := m.hasher.Hash(next)
	if err != nil {
		return 0, err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash); err != nil {
		return 0, err
	}
	n, err := m.sessions.RevokeAllExcept(ctx, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "revoked": n}).Info("password changed")
	return n, nil
}

// Registration is the input of Register.
type Registration struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an active user with no roles.
func (m *Manager) Register(ctx context.Context, r Registration) (*models.User, error) {
	email := store.NormalizeEmail(r.Email)
	username := strings.TrimSpace(r.Username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", errors.ErrInvalidRequest)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", errors.ErrInvalidRequest)
	}
	if res := password.CheckStrength(r.Password); !res.Valid {
		return nil, errors.WeakPassword(res.Violations)
	}
	hash, err := m.hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		IsActive:     true,
	}
	if err := m.users.Create(ctx, u); err != nil {
		return nil, err
	}
	m.log.WithField("user_id", u.ID).Info("user registered")
	return u, nil
}
