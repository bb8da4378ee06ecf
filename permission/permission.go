package permission

import (
	"fmt"
	"strings"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
)

// Triple is a MODULE:ACTION:RESOURCE permission. Any segment may be "*";
// Resource "" means the same as "*".
// Example string: "SALES:CREATE:LEAD"
type Triple struct {
	Module   string `json:"module"`
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`
}

func (t Triple) String() string {
	res := t.Resource
	if res == "" {
		res = models.Wildcard
	}
	return fmt.Sprintf("%s:%s:%s", t.Module, t.Action, res)
}

// ParseTriple parses "MODULE:ACTION" or "MODULE:ACTION:RESOURCE", case-insensitive.
func ParseTriple(s string) (Triple, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Triple{}, fmt.Errorf("%w: invalid permission %q, want MODULE:ACTION[:RESOURCE]", errors.ErrInvalidRequest, s)
	}
	mod, ok := ParseModule(parts[0])
	if !ok {
		return Triple{}, fmt.Errorf("%w: invalid module in %q", errors.ErrInvalidRequest, s)
	}
	act, ok := ParseAction(parts[1])
	if !ok {
		return Triple{}, fmt.Errorf("%w: invalid action in %q", errors.ErrInvalidRequest, s)
	}
	t := Triple{Module: mod, Action: act, Resource: models.Wildcard}
	if len(parts) == 3 {
		res := normalize(parts[2])
		if res != "" && !segmentRegex.MatchString(res) {
			return Triple{}, fmt.Errorf("%w: invalid resource in %q", errors.ErrInvalidRequest, s)
		}
		if res != "" {
			t.Resource = res
		}
	}
	return t, nil
}

// FromModel converts a stored permission.
func FromModel(p models.Permission) Triple {
	return Triple{Module: p.Module, Action: p.Action, Resource: p.Resource}
}

// Model converts to the stored shape.
func (t Triple) Model() models.Permission {
	res := t.Resource
	if res == "" {
		res = models.Wildcard
	}
	return models.Permission{Module: t.Module, Action: t.Action, Resource: res}
}

// IsSuperAdmin reports whether the triple grants everything (module and action both "*").
func (t Triple) IsSuperAdmin() bool {
	return t.Module == models.Wildcard && t.Action == models.Wildcard
}

// Matches reports whether this permission grants (module, action, resource).
// An empty request resource only matches permissions whose resource is any.
func (t Triple) Matches(module, action, resource string) bool {
	if t.IsSuperAdmin() {
		return true
	}
	if t.Module != models.Wildcard && t.Module != module {
		return false
	}
	if t.Action != models.Wildcard && t.Action != action {
		return false
	}
	return t.Resource == "" || t.Resource == models.Wildcard || t.Resource == resource
}
