package branch

import (
	"sort"

	"gorm.io/gorm"
)

// Filter is a branch predicate for data queries. The zero value is
// unrestricted; RestrictedTo narrows a column to a set of branch ids.
type Filter struct {
	restricted bool
	column     string
	ids        []string
}

// Unrestricted returns a filter that constrains nothing.
func Unrestricted() Filter { return Filter{} }

// RestrictedTo constrains column to ids. An empty set matches no row.
func RestrictedTo(column string, ids []string) Filter {
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	return Filter{restricted: true, column: column, ids: cp}
}

func (f Filter) Restricted() bool { return f.restricted }

func (f Filter) Column() string { return f.column }

// IDs returns the allowed branch ids; nil when unrestricted.
func (f Filter) IDs() []string {
	if !f.restricted {
		return nil
	}
	return append([]string{}, f.ids...)
}

// Allows reports whether a row in branchID passes the filter.
func (f Filter) Allows(branchID string) bool {
	if !f.restricted {
		return true
	}
	i := sort.SearchStrings(f.ids, branchID)
	return i < len(f.ids) && f.ids[i] == branchID
}

// Apply adds the predicate to q.
func (f Filter) Apply(q *gorm.DB) *gorm.DB {
	if !f.restricted {
		return q
	}
	if len(f.ids) == 0 {
		return q.Where("1 = 0")
	}
	return q.Where(f.column+" IN ?", f.ids)
}

// Scope returns Apply in the shape gorm's Scopes expects.
func (f Filter) Scope() func(*gorm.DB) *gorm.DB { return f.Apply }
