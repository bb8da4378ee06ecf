package generates

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erpcore/access/errors"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenType separates access tokens from refresh tokens so one can never stand in for the other.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Principal is what a token asserts about its holder.
type Principal struct {
	UserID    string
	Email     string
	Roles     []string
	SessionID string
}

// Claims jwt claims
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles,omitempty"`
	SessionID string    `json:"sessionId"`
	Type      TokenType `json:"typ"`
}

// Principal returns the asserted holder.
func (c *Claims) Principal() Principal {
	return Principal{UserID: c.UserID, Email: c.Email, Roles: c.Roles, SessionID: c.SessionID}
}

// Option configures a JWTAccessGenerate.
type Option func(*JWTAccessGenerate)

func WithIssuer(iss string) Option       { return func(a *JWTAccessGenerate) { a.Issuer = iss } }
func WithAudience(aud string) Option     { return func(a *JWTAccessGenerate) { a.Audience = aud } }
func WithAccessTTL(d time.Duration) Option {
	return func(a *JWTAccessGenerate) {
		if d > 0 {
			a.AccessTTL = d
		}
	}
}
func WithRefreshTTL(d time.Duration) Option {
	return func(a *JWTAccessGenerate) {
		if d > 0 {
			a.RefreshTTL = d
		}
	}
}

// WithClock overrides the time source used for iat/exp and for validation.
func WithClock(now func() time.Time) Option { return func(a *JWTAccessGenerate) { a.now = now } }

// NewJWTAccessGenerate create to generate the jwt access token instance
func NewJWTAccessGenerate(kid string, key []byte, method jwt.SigningMethod, opts ...Option) *JWTAccessGenerate {
	a := &JWTAccessGenerate{
		SignedKeyID:  kid,
		SignedKey:    key,
		SignedMethod: method,
		Issuer:       "erp-access",
		Audience:     "erp-api",
		AccessTTL:    DefaultAccessTTL,
		RefreshTTL:   DefaultRefreshTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// JWTAccessGenerate issues and verifies signed access and refresh tokens.
type JWTAccessGenerate struct {
	SignedKeyID  string
	SignedKey    []byte
	SignedMethod jwt.SigningMethod
	Issuer       string
	Audience     string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	now          func() time.Time
}

// IssueAccessToken signs a short-lived access token carrying the holder's roles.
func (a *JWTAccessGenerate) IssueAccessToken(p Principal) (string, time.Time, error) {
	return a.issue(p, AccessToken, a.AccessTTL)
}

// IssueRefreshToken signs a long-lived refresh token. Roles are left out.
func (a *JWTAccessGenerate) IssueRefreshToken(p Principal) (string, time.Time, error) {
	p.Roles = nil
	return a.issue(p, RefreshToken, a.RefreshTTL)
}

// TokenPair is an access and refresh token minted together.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IssuePair mints both tokens for p.
func (a *JWTAccessGenerate) IssuePair(p Principal) (TokenPair, error) {
	access, accessExp, err := a.IssueAccessToken(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := a.IssueRefreshToken(p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (a *JWTAccessGenerate) issue(p Principal, typ TokenType, ttl time.Duration) (string, time.Time, error) {
	now := a.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.Issuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{a.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		UserID:    p.UserID,
		Email:     p.Email,
		Roles:     p.Roles,
		SessionID: p.SessionID,
		Type:      typ,
	}

	token := jwt.NewWithClaims(a.SignedMethod, claims)
	if a.SignedKeyID != "" {
		token.Header["kid"] = a.SignedKeyID
	}
	key, err := a.signingKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry of any token type.
func (a *JWTAccessGenerate) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{a.SignedMethod.Alg()}),
		jwt.WithIssuer(a.Issuer),
		jwt.WithAudience(a.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.verifyKey()
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// VerifyAccess verifies tokenString and requires it to be an access token.
func (a *JWTAccessGenerate) VerifyAccess(tokenString string) (*Claims, error) {
	return a.verifyType(tokenString, AccessToken)
}

// VerifyRefresh verifies tokenString and requires it to be a refresh token.
func (a *JWTAccessGenerate) VerifyRefresh(tokenString string) (*Claims, error) {
	return a.verifyType(tokenString, RefreshToken)
}

func (a *JWTAccessGenerate) verifyType(tokenString string, typ TokenType) (*Claims, error) {
	claims, err := a.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token", errors.ErrTokenInvalid, typ)
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", errors.ErrTokenInvalid)
	}
	return claims, nil
}

// classify folds jwt parse errors into the three token error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", errors.ErrTokenInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", errors.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", errors.ErrTokenVerificationFailed, err)
	}
}

func (a *JWTAccessGenerate) signingKey() (interface{}, error) {
	switch {
	case a.isHs():
		return a.SignedKey, nil
	case a.isEs():
		return jwt.ParseECPrivateKeyFromPEM(a.SignedKey)
	case a.isRsOrPS():
		return jwt.ParseRSAPrivateKeyFromPEM(a.SignedKey)
	case a.isEd():
		return jwt.ParseEdPrivateKeyFromPEM(a.SignedKey)
	default:
		return nil, fmt.Errorf("unsupported sign method %s", a.SignedMethod.Alg())
	}
}

func (a *JWTAccessGenerate) verifyKey() (interface{}, error) {
	if a.isHs() {
		return a.SignedKey, nil
	}
	key, err := a.signingKey()
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	case crypto.Signer:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

func (a *JWTAccessGenerate) isEs() bool {
	return strings.HasPrefix(a.SignedMethod.Alg(), "ES")
}

func (a *JWTAccessGenerate) isRsOrPS() bool {
	isRs := strings.HasPrefix(a.SignedMethod.Alg(), "RS")
	isPs := strings.HasPrefix(a.SignedMethod.Alg(), "PS")
	return isRs || isPs
}

func (a *JWTAccessGenerate) isHs() bool { return strings.HasPrefix(a.SignedMethod.Alg(), "HS") }
func (a *JWTAccessGenerate) isEd() bool { return strings.HasPrefix(a.SignedMethod.Alg(), "Ed") }
