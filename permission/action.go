package permission

import (
	"regexp"
	"strings"
)

// Common actions. Modules may define their own; any identifier is accepted.
const (
	CREATE  = "CREATE"
	READ    = "READ"
	UPDATE  = "UPDATE"
	DELETE  = "DELETE"
	APPROVE = "APPROVE"
	EXPORT  = "EXPORT"
	MANAGE  = "MANAGE"
)

// Modules known to the ERP. The admin surface of this service is ADMIN.
const (
	ModuleAdmin         = "ADMIN"
	ModuleSales         = "SALES"
	ModuleService       = "SERVICE"
	ModuleFinance       = "FINANCE"
	ModuleInventory     = "INVENTORY"
	ModuleProduction    = "PRODUCTION"
	ModuleHR            = "HR"
	ModuleReports       = "REPORTS"
	ModuleManufacturing = "MANUFACTURING"
)

var segmentRegex = regexp.MustCompile(`^(\*|[A-Z][A-Z0-9_]*)$`)

// normalize upper-cases and trims a triple segment.
func normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// ParseAction normalizes an action name, case-insensitive.
// Returns ok=false if it is not a valid identifier or "*".
func ParseAction(s string) (string, bool) {
	a := normalize(s)
	return a, segmentRegex.MatchString(a)
}

// ParseModule normalizes a module name the same way.
func ParseModule(s string) (string, bool) {
	m := normalize(s)
	return m, segmentRegex.MatchString(m)
}
