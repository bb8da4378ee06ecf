package manage

import (
	"context"

	"github.com/erpcore/access/models"
)

// Identity is the authenticated caller of one request. AccessibleBranches is
// filled in by authorization and is nil before that.
type Identity struct {
	UserID             string   `json:"user_id"`
	Email              string   `json:"email"`
	Roles              []string `json:"roles"`
	SessionID          string   `json:"session_id"`
	AccessibleBranches []string `json:"accessible_branches,omitempty"`
}

func (i *Identity) IsSuperAdmin() bool {
	for _, r := range i.Roles {
		if r == models.SuperAdminRole {
			return true
		}
	}
	return false
}

// CanAccessBranch reports whether branchID is in the resolved branch set.
func (i *Identity) CanAccessBranch(branchID string) bool {
	for _, b := range i.AccessibleBranches {
		if b == branchID {
			return true
		}
	}
	return false
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the gate, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
