package auth

import "github.com/a-cube-io/ereceipts-sdk-go/rbac"

// knownRoles maps the server's role strings to rbac.Role constants.
var knownRoles = map[string]rbac.Role{
	"admin":    rbac.RoleAdmin,
	"merchant": rbac.RoleMerchant,
	"cashier":  rbac.RoleCashier,
	"supplier": rbac.RoleSupplier,
}

// toRBACRoles maps a flat list of server role strings to rbac.Role values.
// An unrecognised string maps to RoleCashier, the least-privileged
// operational role, per spec §4.6 step 3.
func toRBACRoles(names []string) []rbac.Role {
	roles := make([]rbac.Role, 0, len(names))
	for _, n := range names {
		if r, ok := knownRoles[n]; ok {
			roles = append(roles, r)
		} else {
			roles = append(roles, rbac.RoleCashier)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, rbac.RoleCashier)
	}
	return roles
}
