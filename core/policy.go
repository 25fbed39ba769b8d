package core

import (
	"errors"
	"strings"
	"time"
)

// TrustPolicy configures verification of third-party JWTs (verify-only mode).
// It is built once from deployment configuration and is immutable for the
// process lifetime; reloading is a restart concern.
type TrustPolicy struct {
	// Issuers lists every accepted issuer string, matched exactly. A single
	// tenant may publish tokens under more than one historical issuer URL
	// (e.g. a v1 and a v2 template), so all accepted variants must be listed
	// explicitly here.
	Issuers []string
	// Audience is the exact audience the token's aud claim must carry.
	Audience string
	// Algorithms is the allow-list of JWS algorithms. Must be non-empty and
	// must never include "none".
	Algorithms []string
	// Skew is the symmetric clock-skew tolerance applied to exp/nbf/iat.
	Skew time.Duration

	// JWKSURL is the provider endpoint publishing the signing key set.
	JWKSURL string
	// CacheTTL bounds how long a fetched key set is considered fresh.
	CacheTTL time.Duration
	// MaxStale, when positive, allows an expired key set to serve lookups
	// for this long after a failed refresh. Zero keeps the default-safe
	// posture: propagate the fetch error and reject the request.
	MaxStale time.Duration
}

// AlgNone is the unsigned JWS algorithm. It is rejected unconditionally,
// regardless of policy contents.
const AlgNone = "none"

// Validate reports whether the policy is usable for verification.
func (p TrustPolicy) Validate() error {
	if len(p.Issuers) == 0 {
		return errors.New("trust policy: at least one accepted issuer required")
	}
	for _, iss := range p.Issuers {
		if strings.TrimSpace(iss) == "" {
			return errors.New("trust policy: empty issuer entry")
		}
	}
	if strings.TrimSpace(p.Audience) == "" {
		return errors.New("trust policy: audience required")
	}
	if len(p.Algorithms) == 0 {
		return errors.New("trust policy: at least one allowed algorithm required")
	}
	for _, alg := range p.Algorithms {
		if strings.EqualFold(alg, AlgNone) {
			return errors.New("trust policy: algorithm \"none\" is not allowed")
		}
	}
	return nil
}

// AcceptsIssuer reports whether iss exactly matches one of the accepted
// issuer variants.
func (p TrustPolicy) AcceptsIssuer(iss string) bool {
	for _, v := range p.Issuers {
		if v == iss {
			return true
		}
	}
	return false
}

// AcceptsAlgorithm reports whether alg is on the allow-list. "none" never is.
func (p TrustPolicy) AcceptsAlgorithm(alg string) bool {
	if strings.EqualFold(alg, AlgNone) {
		return false
	}
	for _, v := range p.Algorithms {
		if v == alg {
			return true
		}
	}
	return false
}
