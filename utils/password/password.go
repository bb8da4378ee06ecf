// Package password hashes and verifies credentials and enforces the password policy.
package password

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/erpcore/access/errors"
)

const (
	DefaultCost = 12
	MinLength   = 8
	MaxLength   = 128

	// Symbols is the accepted special character set.
	Symbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

	// bcrypt only reads the first 72 bytes of its input
	bcryptMaxInput = 72
)

// commonPatterns are rejected anywhere in a password, case-insensitively.
var commonPatterns = []string{"123456", "password", "qwerty", "admin", "letmein"}

// Hasher hashes passwords with bcrypt at a fixed cost.
type Hasher struct {
	Cost int
}

// NewHasher clamps cost into bcrypt's accepted range; zero selects DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns a salted bcrypt hash. Two calls with the same input differ.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(prepare(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrHashing, err)
	}
	return string(b), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// a malformed hash is an ErrVerification.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), prepare(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", errors.ErrVerification, err)
	}
}

// prepare reduces inputs bcrypt would reject to a fixed-size digest.
func prepare(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// StrengthResult lists every rule the password breaks.
type StrengthResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// CheckStrength evaluates all policy rules without stopping at the first failure.
func CheckStrength(password string) StrengthResult {
	var violations []string

	n := len([]rune(password))
	if n < MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinLength))
	}
	if n > MaxLength {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", MaxLength))
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}
	if !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !digit {
		violations = append(violations, "must contain a digit")
	}
	if !symbol {
		violations = append(violations, "must contain a special character")
	}

	lowered := strings.ToLower(password)
	for _, p := range commonPatterns {
		if strings.Contains(lowered, p) {
			violations = append(violations, "must not contain common patterns")
			break
		}
	}

	return StrengthResult{Valid: len(violations) == 0, Violations: violations}
}
