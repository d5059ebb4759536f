// Package rbac implements the Permission/Role Engine (spec §4.5): role
// hierarchy and closure, primary-role selection, auto-detection from scope,
// and an LRU-cached, batch-coalescing wrapper around a caller-supplied
// Access Control collaborator.
package rbac

// Role is one of the SDK's declared roles.
type Role string

const (
	RoleAdmin    Role = "ROLE_ADMIN"
	RoleMerchant Role = "ROLE_MERCHANT"
	RoleCashier  Role = "ROLE_CASHIER"
	RoleSupplier Role = "ROLE_SUPPLIER"
)

// hierarchy declares, for each role, the set of roles it implies. Closure is
// computed transitively by Effective. Open question resolved here (see
// DESIGN.md): admin implies every operational role; merchant implies
// cashier (a merchant can do anything a cashier can); supplier is a
// standalone role with no implied roles.
var hierarchy = map[Role][]Role{
	RoleAdmin:    {RoleMerchant, RoleCashier, RoleSupplier},
	RoleMerchant: {RoleCashier},
	RoleCashier:  {},
	RoleSupplier: {},
}

// priority is the fixed, deterministic ordering used to select a primary
// role from an effective set (spec §4.5 "fixed priority list").
var priority = []Role{RoleAdmin, RoleMerchant, RoleCashier, RoleSupplier}

// Effective returns the transitive closure of roles under hierarchy.
// Effective(Effective(R)) = Effective(R) by construction: closure only adds
// roles already reachable, so a second pass is a no-op.
func Effective(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles)*2)
	var walk func(r Role)
	walk = func(r Role) {
		if seen[r] {
			return
		}
		seen[r] = true
		for _, implied := range hierarchy[r] {
			walk(implied)
		}
	}
	for _, r := range roles {
		walk(r)
	}

	out := make([]Role, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	return out
}

// HasRole reports whether required is in the effective closure of userRoles.
func HasRole(userRoles []Role, required Role) bool {
	for _, r := range Effective(userRoles) {
		if r == required {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether any of required is in the effective closure.
func HasAnyRole(userRoles []Role, required ...Role) bool {
	effective := Effective(userRoles)
	for _, want := range required {
		for _, r := range effective {
			if r == want {
				return true
			}
		}
	}
	return false
}

// Primary returns the highest-priority role present in the effective
// closure of roles. Stable under reordering of roles, since priority order
// is fixed independently of input order. Returns "" if roles is empty.
func Primary(roles []Role) Role {
	effective := Effective(roles)
	lookup := make(map[Role]bool, len(effective))
	for _, r := range effective {
		lookup[r] = true
	}
	for _, candidate := range priority {
		if lookup[candidate] {
			return candidate
		}
	}
	return ""
}

// ScopeContext carries the scope ids used for auto-detection and
// can-switch-to prerequisite checks.
type ScopeContext struct {
	MerchantID  string
	CashierID   string
	PointOfSale string
}

// AutoDetectRole picks the highest-priority role consistent with the
// supplied scope ids (spec §4.5): cashier+POS ⇒ cashier; merchant present,
// no cashier ⇒ merchant; neither ⇒ supplier.
func AutoDetectRole(ctx ScopeContext) Role {
	switch {
	case ctx.CashierID != "" && ctx.PointOfSale != "":
		return RoleCashier
	case ctx.MerchantID != "" && ctx.CashierID == "":
		return RoleMerchant
	default:
		return RoleSupplier
	}
}

// CanSwitchTo reports whether userRoles may switch to target, requiring both
// HasRole(target) and the scope-id prerequisites target needs.
func CanSwitchTo(userRoles []Role, target Role, ctx ScopeContext) bool {
	if !HasRole(userRoles, target) {
		return false
	}
	switch target {
	case RoleCashier:
		return ctx.CashierID != "" && ctx.PointOfSale != ""
	case RoleMerchant:
		return ctx.MerchantID != ""
	default:
		return true
	}
}
