package core

import "time"

// VerifiedClaims is the output of a successful validation: the registered
// claims the policy checked, plus every other claim the token carried,
// preserved verbatim. A fresh value is built per validation call; nothing in
// this layer caches or reuses it across requests.
type VerifiedClaims struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Raw holds the full decoded claim set, including everything above.
	Raw map[string]any
}

// String returns the string claim with the given name, or "" if absent or
// not a string. Convenience for pass-through claims like upn/oid/name.
func (c *VerifiedClaims) String(name string) string {
	if c == nil || c.Raw == nil {
		return ""
	}
	if s, ok := c.Raw[name].(string); ok {
		return s
	}
	return ""
}
