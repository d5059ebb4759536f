// Package auth implements the Token Manager (spec §4.4) and Auth
// Orchestrator (spec §4.6): bearer-token lifecycle, refresh scheduling, and
// the login/logout session state machine.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// Claims is the decoded payload of a server-issued JWT (spec §6's JWT
// contract). Roles may be a flat []any or a map[string]any of
// audience → role list; NormalizedRoles picks the first audience per the
// Open Question this specification resolves in that component's favour.
type Claims struct {
	Subject        string
	Email          string
	Roles          any
	ExpiresAt      time.Time
	IssuedAt       time.Time
	NotBefore      time.Time
	MerchantID     string
	CashierID      string
	PointOfSaleID  string
	raw            jwt.MapClaims
}

// ParseClaims decodes a JWT's payload segment without verifying its
// signature: the client never holds the server's signing secret, only the
// server does, so this is decode-only per spec §4.4's "Parse" contract.
// Malformed tokens are rejected with errors.TokenInvalid.
func ParseClaims(token string) (*Claims, error) {
	parser := jwt.NewParser()
	var mapClaims jwt.MapClaims
	_, _, err := parser.ParseUnverified(token, &mapClaims)
	if err != nil {
		return nil, sdkerrors.TokenInvalid(err)
	}
	return claimsFromMap(mapClaims), nil
}

func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{raw: m}
	if sub, ok := m["sub"].(string); ok {
		c.Subject = sub
	}
	if email, ok := m["email"].(string); ok {
		c.Email = email
	}
	if roles, ok := m["roles"]; ok {
		c.Roles = roles
	}
	c.ExpiresAt = numericDate(m, "exp")
	c.IssuedAt = numericDate(m, "iat")
	c.NotBefore = numericDate(m, "nbf")
	if v, ok := m["merchant_id"].(string); ok {
		c.MerchantID = v
	}
	if v, ok := m["cashier_id"].(string); ok {
		c.CashierID = v
	}
	if v, ok := m["point_of_sale_id"].(string); ok {
		c.PointOfSaleID = v
	}
	return c
}

func numericDate(m jwt.MapClaims, key string) time.Time {
	v, ok := m[key]
	if !ok {
		return time.Time{}
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	default:
		return time.Time{}
	}
}

// Validate checks expiry, not-before, and the presence of the claims spec
// §4.4 requires (subject, email, roles). now is injected for testability.
func (c *Claims) Validate(now time.Time) error {
	if c.Subject == "" || c.Email == "" || c.Roles == nil {
		return sdkerrors.TokenInvalid(nil).WithDetails("reason", "missing required claim")
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return sdkerrors.TokenExpired()
	}
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore) {
		return sdkerrors.TokenInvalid(nil).WithDetails("reason", "not yet valid")
	}
	return nil
}

// AboutToExpire reports whether the token should be refreshed now: the
// token is within refreshBuffer of its expiry (spec §6 clock-skew
// tolerance: "now ≥ exp − refresh_buffer").
func (c *Claims) AboutToExpire(now time.Time, refreshBuffer time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-refreshBuffer))
}

// NormalizedRoles flattens the Roles claim into a []string. A flat array is
// used as-is; a map of audience → role list uses the first audience found,
// per the spec's explicit Open Question resolution (iteration order over a
// Go map is randomised, so "first" means first in a stable sort of audience
// names — deterministic, even though the spec leaves the original tie-break
// unspecified).
func (c *Claims) NormalizedRoles() []string {
	switch v := c.Roles.(type) {
	case []any:
		return toStringSlice(v)
	case map[string]any:
		return firstAudienceRoles(v)
	default:
		return nil
	}
}

func toStringSlice(v []any) []string {
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstAudienceRoles(m map[string]any) []string {
	var firstKey string
	for k := range m {
		if firstKey == "" || k < firstKey {
			firstKey = k
		}
	}
	if firstKey == "" {
		return nil
	}
	if list, ok := m[firstKey].([]any); ok {
		return toStringSlice(list)
	}
	return nil
}
