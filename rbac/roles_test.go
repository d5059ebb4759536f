package rbac

import (
	"reflect"
	"sort"
	"testing"
)

func sortedStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	sort.Strings(out)
	return out
}

func TestEffectiveClosureIsIdempotent(t *testing.T) {
	once := sortedStrings(Effective([]Role{RoleAdmin}))
	twice := sortedStrings(Effective(Effective([]Role{RoleAdmin})))
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("effective(effective(R)) != effective(R): %v vs %v", once, twice)
	}
}

func TestAdminImpliesAllOperationalRoles(t *testing.T) {
	if !HasRole([]Role{RoleAdmin}, RoleMerchant) || !HasRole([]Role{RoleAdmin}, RoleCashier) || !HasRole([]Role{RoleAdmin}, RoleSupplier) {
		t.Fatal("admin must imply merchant, cashier and supplier")
	}
}

func TestMerchantImpliesCashierNotSupplier(t *testing.T) {
	if !HasRole([]Role{RoleMerchant}, RoleCashier) {
		t.Fatal("merchant must imply cashier")
	}
	if HasRole([]Role{RoleMerchant}, RoleSupplier) {
		t.Fatal("merchant must not imply supplier")
	}
}

func TestPrimaryStableUnderReordering(t *testing.T) {
	a := Primary([]Role{RoleCashier, RoleMerchant})
	b := Primary([]Role{RoleMerchant, RoleCashier})
	if a != b || a != RoleMerchant {
		t.Fatalf("primary role must be stable and highest priority: got %v, %v", a, b)
	}
}

func TestAutoDetectRole(t *testing.T) {
	cases := []struct {
		name string
		ctx  ScopeContext
		want Role
	}{
		{"cashier with pos", ScopeContext{CashierID: "c1", PointOfSale: "p1"}, RoleCashier},
		{"merchant only", ScopeContext{MerchantID: "m1"}, RoleMerchant},
		{"no scope", ScopeContext{}, RoleSupplier},
	}
	for _, tc := range cases {
		if got := AutoDetectRole(tc.ctx); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanSwitchToRequiresScope(t *testing.T) {
	roles := []Role{RoleMerchant}
	if CanSwitchTo(roles, RoleCashier, ScopeContext{}) {
		t.Fatal("switching to cashier without cashier+pos scope must fail")
	}
	if !CanSwitchTo(roles, RoleCashier, ScopeContext{CashierID: "c1", PointOfSale: "p1"}) {
		t.Fatal("switching to cashier with full scope should succeed given implied role")
	}
	if CanSwitchTo([]Role{RoleSupplier}, RoleMerchant, ScopeContext{MerchantID: "m1"}) {
		t.Fatal("supplier does not have merchant role and must not switch")
	}
}
