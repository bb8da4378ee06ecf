package errors

import (
	"errors"
	"net/http"
)

// New, Is and As re-export the standard helpers so callers need a single errors import.
var (
	New = errors.New
	Is  = errors.Is
	As  = errors.As
)

// authentication errors
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("token invalid")
	// ErrTokenVerificationFailed covers issuer/audience mismatch and any other claim failure.
	ErrTokenVerificationFailed = errors.New("token verification failed")
	ErrSessionInvalid          = errors.New("session invalid")
	ErrSessionNotFound         = errors.New("session not found")
)

// authorization errors
var (
	ErrForbidden = errors.New("forbidden")
)

// domain errors
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrConflict           = errors.New("resource already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrBranchNotFound     = errors.New("branch not found")
	ErrRoleInUse          = errors.New("role is assigned to active users")
	ErrSystemRole         = errors.New("system role cannot be modified")
)

// internal failures
var (
	ErrHashing      = errors.New("password hashing failed")
	ErrVerification = errors.New("password verification failed")
	ErrServerError  = errors.New("internal server error")
)

// kind binds a sentinel to its wire code, status and public message.
type kind struct {
	err     error
	code    string
	status  int
	message string
}

// kinds is checked in order with errors.Is; the first hit classifies the error.
var kinds = []kind{
	{ErrTokenExpired, "TOKEN_EXPIRED", http.StatusUnauthorized, "Authentication required"},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrTokenInvalid, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrTokenVerificationFailed, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrSessionInvalid, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrSessionNotFound, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrInvalidCredentials, "UNAUTHORIZED", http.StatusUnauthorized, "Invalid credentials"},
	{ErrInvalidRefreshToken, "INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "Invalid or expired refresh token"},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden, "Insufficient permissions"},
	{ErrWeakPassword, "WEAK_PASSWORD", http.StatusBadRequest, "Password does not meet requirements"},
	{ErrInvalidRequest, "VALIDATION_ERROR", http.StatusBadRequest, "Invalid request"},
	{ErrConflict, "CONFLICT", http.StatusConflict, "Resource already exists"},
	{ErrUserNotFound, "USER_NOT_FOUND", http.StatusNotFound, "User not found"},
	{ErrRoleNotFound, "ROLE_NOT_FOUND", http.StatusNotFound, "Role not found"},
	{ErrPermissionNotFound, "PERMISSION_NOT_FOUND", http.StatusNotFound, "Permission not found"},
	{ErrBranchNotFound, "BRANCH_NOT_FOUND", http.StatusNotFound, "Branch not found"},
	{ErrRoleInUse, "ROLE_IN_USE", http.StatusBadRequest, "Role is assigned to active users"},
	{ErrSystemRole, "FORBIDDEN", http.StatusForbidden, "System role cannot be modified"},
}

// Codes maps each sentinel to its envelope code.
var Codes = func() map[error]string {
	m := make(map[error]string, len(kinds))
	for _, k := range kinds {
		m[k.err] = k.code
	}
	return m
}()

// StatusCodes maps each sentinel to its HTTP status.
var StatusCodes = func() map[error]int {
	m := make(map[error]int, len(kinds))
	for _, k := range kinds {
		m[k.err] = k.status
	}
	return m
}()

// Classify returns the status, code and public message for err. Anything
// unknown is an internal error with a generic message.
func Classify(err error) (status int, code, message string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.code, k.message
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
}

// Internal reports whether err falls outside the known taxonomy and should be logged.
func Internal(err error) bool {
	status, _, _ := Classify(err)
	return status >= http.StatusInternalServerError
}

// ViolationError carries the individual rule failures behind a validation error.
type ViolationError struct {
	Err        error
	Violations []string
}

func (e *ViolationError) Error() string {
	return e.Err.Error()
}

func (e *ViolationError) Unwrap() error { return e.Err }

// WeakPassword wraps ErrWeakPassword with the failed rules.
func WeakPassword(violations []string) error {
	return &ViolationError{Err: ErrWeakPassword, Violations: violations}
}
