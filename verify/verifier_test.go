package verify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/open-rails/tokenguard/core"
	"github.com/open-rails/tokenguard/jwks"
	authtest "github.com/open-rails/tokenguard/testing"
	"github.com/open-rails/tokenguard/verify"
)

func setup(t *testing.T, ti *authtest.TestIssuer, opts ...verify.Option) (*verify.Verifier, *jwks.Cache) {
	t.Helper()
	policy := ti.TrustPolicy()
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL, TTL: policy.CacheTTL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	v, err := verify.New(policy, cache, opts...)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}
	return v, cache
}

func wantKind(t *testing.T, err error, kind core.FailureKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("validation succeeded, want %s", kind)
	}
	got, ok := core.KindOf(err)
	if !ok {
		t.Fatalf("error %v carries no failure kind, want %s", err, kind)
	}
	if got != kind {
		t.Fatalf("failure kind = %s, want %s (err: %v)", got, kind, err)
	}
}

func TestRoundTrip(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	token := ti.CreateTokenWithClaims("user-123", map[string]any{
		"upn": "someone@example.com",
		"oid": "11111111-2222-3333-4444-555555555555",
	})
	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("subject = %q, want user-123", claims.Subject)
	}
	if claims.Issuer != ti.URL() {
		t.Errorf("issuer = %q, want %q", claims.Issuer, ti.URL())
	}
	if claims.Audience != ti.Audience() {
		t.Errorf("audience = %q, want %q", claims.Audience, ti.Audience())
	}
	if got := claims.String("upn"); got != "someone@example.com" {
		t.Errorf("upn passthrough = %q", got)
	}
	if got := claims.String("oid"); got != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("oid passthrough = %q", got)
	}
}

func TestIdempotentValidation(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	token := ti.CreateToken("user-123")
	first, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	second, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if first.Subject != second.Subject || !first.ExpiresAt.Equal(second.ExpiresAt) || !first.IssuedAt.Equal(second.IssuedAt) {
		t.Errorf("repeat validation differs: %+v vs %+v", first, second)
	}
}

func TestMalformedToken(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	for _, raw := range []string{"", "not-a-jwt", "a.b", "a.b.c.d", "!!!.###.***"} {
		_, err := v.Verify(context.Background(), raw)
		wantKind(t, err, core.FailMalformed)
	}
}

func TestAlgNoneRejectedBeforeKeyLookup(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, cache := setup(t, ti)

	// A real kid in the header must not help: rejection happens on the
	// declared algorithm alone, before any key set fetch.
	token := ti.UnsignedToken(ti.DefaultClaims("user-123"))
	_, err := v.Verify(context.Background(), token)
	wantKind(t, err, core.FailAlgorithmRejected)

	if got := cache.Fetches(); got != 0 {
		t.Errorf("fetches = %d, want 0 (unsigned token must never reach key lookup)", got)
	}
}

func TestDisallowedAlgorithmRejected(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	policy := ti.TrustPolicy()
	policy.Algorithms = []string{"ES256"} // issuer signs RS256
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL, TTL: policy.CacheTTL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	v, err := verify.New(policy, cache)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}

	_, err = v.Verify(context.Background(), ti.CreateToken("user-123"))
	wantKind(t, err, core.FailAlgorithmRejected)
}

func TestUnknownKeyID(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	token := ti.SignTokenWithKid("no-such-key", ti.DefaultClaims("user-123"))
	_, err := v.Verify(context.Background(), token)
	wantKind(t, err, core.FailKeyUnresolvable)
}

func TestForeignKeyNeverValidates(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	// Signed by a key the cache has never seen, under the trusted issuer's
	// kid: the signature check must fail.
	other := authtest.NewTestIssuerWithAudience(ti.Audience())
	defer other.Close()
	token := other.SignTokenWithKid(ti.KID(), ti.DefaultClaims("user-123"))

	_, err := v.Verify(context.Background(), token)
	wantKind(t, err, core.FailSignatureInvalid)
}

func TestIssuerRejected(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	claims := ti.DefaultClaims("user-123")
	claims["iss"] = "https://evil.example.com"
	_, err := v.Verify(context.Background(), ti.SignToken(claims))
	wantKind(t, err, core.FailIssuerRejected)
}

func TestIssuerVariantsAccepted(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	// Both the legacy and current issuer shapes of the same tenant are
	// listed explicitly; the validator matches exactly, no pattern guessing.
	legacy := ti.URL() + "/legacy"
	policy := ti.TrustPolicy()
	policy.Issuers = append(policy.Issuers, legacy)
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL, TTL: policy.CacheTTL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	v, err := verify.New(policy, cache)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}

	claims := ti.DefaultClaims("user-123")
	claims["iss"] = legacy
	got, err := v.Verify(context.Background(), ti.SignToken(claims))
	if err != nil {
		t.Fatalf("Verify with legacy issuer: %v", err)
	}
	if got.Issuer != legacy {
		t.Errorf("issuer = %q, want %q", got.Issuer, legacy)
	}
}

func TestAudienceScenario(t *testing.T) {
	const aud = "api://00000000-0000-0000-0000-000000000000"
	ti := authtest.NewTestIssuerWithAudience(aud)
	defer ti.Close()
	v, _ := setup(t, ti)

	claims, err := v.Verify(context.Background(), ti.CreateToken("user-123"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Audience != aud {
		t.Errorf("audience = %q, want %q", claims.Audience, aud)
	}
}

func TestAudienceRejected(t *testing.T) {
	ti := authtest.NewTestIssuerWithAudience("api://00000000-0000-0000-0000-000000000000")
	defer ti.Close()
	v, _ := setup(t, ti)

	claims := ti.DefaultClaims("user-123")
	claims["aud"] = "api://different-id"
	_, err := v.Verify(context.Background(), ti.SignToken(claims))
	wantKind(t, err, core.FailAudienceRejected)
}

func TestExpiryBoundary(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	skew := ti.TrustPolicy().Skew
	expAt := time.Now().Add(time.Hour).Truncate(time.Second)
	claims := ti.DefaultClaims("user-123")
	claims["exp"] = expAt.Unix()
	claims["iat"] = expAt.Add(-2 * time.Hour).Unix()
	token := ti.SignToken(claims)

	// Exactly at exp + skew the token is still inside the tolerance.
	atBoundary := expAt.Add(skew)
	v, _ := setup(t, ti, verify.WithClock(func() time.Time { return atBoundary }))
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify at boundary: %v", err)
	}

	// One microsecond past it is not.
	past := atBoundary.Add(time.Microsecond)
	v2, _ := setup(t, ti, verify.WithClock(func() time.Time { return past }))
	_, err := v2.Verify(context.Background(), token)
	wantKind(t, err, core.FailExpired)
}

func TestNotYetValid(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	claims := ti.DefaultClaims("user-123")
	claims["nbf"] = time.Now().Add(10 * time.Minute).Unix()
	_, err := v.Verify(context.Background(), ti.SignToken(claims))
	wantKind(t, err, core.FailNotYetValid)
}

func TestFutureIssuedAt(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	claims := ti.DefaultClaims("user-123")
	claims["iat"] = time.Now().Add(10 * time.Minute).Unix()
	_, err := v.Verify(context.Background(), ti.SignToken(claims))
	wantKind(t, err, core.FailNotYetValid)
}

func TestMissingExp(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v, _ := setup(t, ti)

	claims := ti.DefaultClaims("user-123")
	delete(claims, "exp")
	_, err := v.Verify(context.Background(), ti.SignToken(claims))
	wantKind(t, err, core.FailMalformed)
}

func TestProviderOutageRejects(t *testing.T) {
	ti := authtest.NewTestIssuer()
	v, _ := setup(t, ti)
	token := ti.CreateToken("user-123")
	ti.Close()

	_, err := v.Verify(context.Background(), token)
	wantKind(t, err, core.FailKeyUnresolvable)
}

func TestConcurrentValidationsSingleFetch(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	policy := ti.TrustPolicy()
	policy.CacheTTL = 10 * time.Millisecond
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL, TTL: policy.CacheTTL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	v, err := verify.New(policy, cache)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}

	// Populate, rotate, and let the snapshot go stale.
	if _, err := v.Verify(context.Background(), ti.CreateToken("warmup")); err != nil {
		t.Fatalf("warmup Verify: %v", err)
	}
	ti.Rotate()
	time.Sleep(20 * time.Millisecond)
	token := ti.CreateToken("user-123")

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = v.Verify(context.Background(), token)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := cache.Fetches(); got != 2 {
		t.Errorf("fetches = %d, want 2 (one warmup, one shared refresh)", got)
	}
}

func TestPolicyRefusesNoneAlgorithm(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	policy := ti.TrustPolicy()
	policy.Algorithms = []string{"RS256", "none"}
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	if _, err := verify.New(policy, cache); err == nil {
		t.Fatal("verify.New accepted a policy allowing alg none")
	}
}
