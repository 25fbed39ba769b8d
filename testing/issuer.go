// Package testing provides utilities for testing applications that use
// tokenguard. It provides a mock identity provider that serves a JWKS
// document and signs tokens, enabling integration tests without a real
// provider.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	policy := issuer.TrustPolicy()
//	token := issuer.CreateToken("user-123")
package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/tokenguard/core"
	jwtkit "github.com/open-rails/tokenguard/jwt"
)

// TestIssuer is a mock identity provider. It runs an HTTP server exposing
// /.well-known/jwks.json and /.well-known/openid-configuration, and signs
// tokens that validate against the served key set. Rotate swaps the signing
// key to exercise cache refresh paths.
type TestIssuer struct {
	server   *httptest.Server
	audience string

	mu     sync.Mutex
	signer *jwtkit.RSASigner
	gen    int

	jwksHits atomic.Int64
}

// NewTestIssuer creates a test issuer with a default audience.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer minting tokens for the
// given audience. Call Close when done.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	ti := &TestIssuer{audience: audience}
	ti.signer = mustSigner("test-key-1")

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", ti.handleDiscovery)

	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the issuer URL; it doubles as the iss claim of minted tokens.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// JWKSURL returns the key set endpoint.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + "/.well-known/jwks.json" }

// Audience returns the audience minted into tokens by default.
func (ti *TestIssuer) Audience() string { return ti.audience }

// KID returns the current signing key id.
func (ti *TestIssuer) KID() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer.KID()
}

// JWKSRequests reports how many times the key set endpoint was fetched.
func (ti *TestIssuer) JWKSRequests() int64 { return ti.jwksHits.Load() }

// TrustPolicy returns a policy that accepts this issuer's tokens.
func (ti *TestIssuer) TrustPolicy() core.TrustPolicy {
	return core.TrustPolicy{
		Issuers:    []string{ti.URL()},
		Audience:   ti.audience,
		Algorithms: []string{"RS256"},
		Skew:       30 * time.Second,
		JWKSURL:    ti.JWKSURL(),
		CacheTTL:   time.Minute,
	}
}

// Rotate replaces the signing key with a fresh one under a new kid. Tokens
// signed before the rotation no longer verify against the served key set.
func (ti *TestIssuer) Rotate() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.gen++
	ti.signer = mustSigner("test-key-" + strconv.Itoa(ti.gen+1))
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.jwksHits.Add(1)
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	k := jwtkit.RSAPublicToJWK(signer.PublicKey(), signer.KID(), signer.Algorithm())
	jwtkit.ServeJWKS(w, r, jwtkit.JWKS{Keys: []jwtkit.JWK{k}})
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"issuer":"` + ti.URL() + `","token_endpoint":"` + ti.URL() + `/oauth2/token","jwks_uri":"` + ti.JWKSURL() + `"}`))
}

// CreateToken creates a signed token for the subject with one hour to live.
func (ti *TestIssuer) CreateToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, nil)
}

// CreateTokenWithClaims creates a signed token, merging extraClaims over the
// standard set (sub, iss, aud, exp, iat).
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extraClaims map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extraClaims {
		claims[k] = v
	}
	return ti.SignToken(claims)
}

// SignToken signs an arbitrary claim set with the current key. The claims
// are used verbatim; nothing is added or defaulted.
func (ti *TestIssuer) SignToken(claims jwt.MapClaims) string {
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	token, err := signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// SignTokenWithKid signs the claims with the current key but stamps a
// different kid into the header, so lookups for the declared key fail.
func (ti *TestIssuer) SignTokenWithKid(kid string, claims jwt.MapClaims) string {
	ti.mu.Lock()
	key := ti.signer.PrivateKey()
	ti.mu.Unlock()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return signed
}

// UnsignedToken builds an alg=none token carrying the claims, complete with
// the current kid in its header. Useful for asserting that unsigned tokens
// are rejected before any signature handling.
func (ti *TestIssuer) UnsignedToken(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token.Header["kid"] = ti.KID()
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic("failed to build unsigned token: " + err.Error())
	}
	return signed
}

// CreateTokenWithExpiry creates a signed token with a custom expiry.
func (ti *TestIssuer) CreateTokenWithExpiry(subject string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(subject, map[string]any{"exp": expiry.Unix()})
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithExpiry(subject, time.Now().Add(-time.Hour))
}

// DefaultClaims returns the standard claim set for subject, for callers that
// want to tweak a field before signing.
func (ti *TestIssuer) DefaultClaims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func mustSigner(kid string) *jwtkit.RSASigner {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	return signer
}
