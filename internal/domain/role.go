package domain

// ──────────────────────────────────────────────────────────────────────────────
// AdminRole
// ──────────────────────────────────────────────────────────────────────────────

// AdminRole controls access levels in the back-office.
type AdminRole string

const (
	RoleAdmin    AdminRole = "admin"    // full back-office access
	RoleRisk     AdminRole = "risk"     // risk events and coverage
	RoleFinance  AdminRole = "finance"  // reserve fund entries
	RoleOps      AdminRole = "ops"      // operations: manual settlement runs
	RoleReadOnly AdminRole = "readonly" // read-only back-office access
)

// Valid reports whether r is a known back-office role.
func (r AdminRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleRisk, RoleFinance, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// CanMutate reports whether r may change reserve or settlement state.
func (r AdminRole) CanMutate() bool {
	return r == RoleAdmin || r == RoleFinance || r == RoleOps
}
