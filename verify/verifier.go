// Package verify implements the security-critical decision point: it turns a
// raw bearer token into VerifiedClaims only when every structural,
// cryptographic, and policy check passes, and into a typed rejection
// otherwise.
package verify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/tokenguard/core"
	"github.com/open-rails/tokenguard/jwks"
)

// KeySource resolves a key id to a verification key. *jwks.Cache satisfies
// this; tests may substitute a fixed source.
type KeySource interface {
	GetKey(ctx context.Context, kid string) (jwks.SigningKey, error)
}

// Verifier validates bearer tokens against a TrustPolicy. It is stateless
// and reentrant; concurrent calls share nothing but the key source.
type Verifier struct {
	policy core.TrustPolicy
	keys   KeySource
	log    logrus.FieldLogger
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source, for deterministic temporal checks in
// tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the diagnostics logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *Verifier) { v.log = log }
}

// New builds a Verifier. The policy is validated up front so that a
// misconfigured allow-list (empty, or containing "none") can never reach the
// request path.
func New(policy core.TrustPolicy, keys KeySource, opts ...Option) (*Verifier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("verify: key source required")
	}
	v := &Verifier{policy: policy, keys: keys, log: logrus.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// Verify runs the validation pipeline over a raw compact JWS. Checks run in
// a fixed order: structure, algorithm, key resolution, and signature come
// before any claim is trusted, so attacker-controlled payload content cannot
// influence issuer/audience/time checks prior to authenticity being proven.
// On failure the returned error is (or wraps) a *core.ValidationError.
func (v *Verifier) Verify(ctx context.Context, raw string) (*core.VerifiedClaims, error) {
	// Step 1: structural parse of the header segment.
	hdr, err := parseHeader(raw)
	if err != nil {
		return nil, core.FailWith(core.FailMalformed, err)
	}

	// Step 2: declared algorithm must be allow-listed; "none" never is.
	if !v.policy.AcceptsAlgorithm(hdr.Alg) {
		return nil, core.Failf(core.FailAlgorithmRejected, "algorithm %q not allowed", hdr.Alg)
	}

	// Step 3: resolve the signing key.
	if hdr.Kid == "" {
		return nil, core.Failf(core.FailKeyUnresolvable, "token header missing kid")
	}
	key, err := v.keys.GetKey(ctx, hdr.Kid)
	if err != nil {
		return nil, core.FailWith(core.FailKeyUnresolvable, err)
	}
	if key.Algorithm != "" && key.Algorithm != hdr.Alg {
		return nil, core.Failf(core.FailAlgorithmRejected, "key %q is bound to %s, token declares %s", hdr.Kid, key.Algorithm, hdr.Alg)
	}

	// Step 4: signature verification over header+payload.
	claims, err := v.checkSignature(raw, hdr.Alg, key.Key)
	if err != nil {
		return nil, err
	}

	// Step 5: issuer must match one accepted variant exactly.
	iss, _ := claims.GetIssuer()
	if !v.policy.AcceptsIssuer(iss) {
		return nil, core.Failf(core.FailIssuerRejected, "issuer %q not accepted", iss)
	}

	// Step 6: audience must carry the expected value.
	aud, _ := claims.GetAudience()
	if !containsAudience(aud, v.policy.Audience) {
		return nil, core.Failf(core.FailAudienceRejected, "audience %v does not include %q", []string(aud), v.policy.Audience)
	}

	// Step 7: temporal checks with symmetric skew.
	now := v.now()
	exp, iat, err := v.checkTimes(claims, now)
	if err != nil {
		return nil, err
	}

	// Step 8: success.
	v.log.WithFields(logrus.Fields{"iss": iss, "kid": hdr.Kid}).Debug("token verified")
	out := &core.VerifiedClaims{
		Issuer:    iss,
		Audience:  v.policy.Audience,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Raw:       map[string]any(claims),
	}
	out.Subject, _ = claims.GetSubject()
	return out, nil
}

func parseHeader(raw string) (header, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return header{}, fmt.Errorf("token has %d segments, want 3", len(parts))
	}
	b, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return header{}, fmt.Errorf("decode header segment: %w", err)
	}
	var hdr header
	if err := json.Unmarshal(b, &hdr); err != nil {
		return header{}, fmt.Errorf("unmarshal header: %w", err)
	}
	if hdr.Alg == "" {
		return header{}, errors.New("header missing alg")
	}
	return hdr, nil
}

// checkSignature delegates the cryptographic compare to golang-jwt, which
// uses constant-time comparisons in its signing method implementations. The
// method set is restricted to the single declared (and already allow-listed)
// algorithm so the library cannot be steered onto another method.
func (v *Verifier) checkSignature(raw, alg string, key any) (jwt.MapClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(raw, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, core.FailWith(core.FailMalformed, err)
		}
		return nil, core.FailWith(core.FailSignatureInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, core.Failf(core.FailMalformed, "unexpected claims type %T", token.Claims)
	}
	return claims, nil
}

// checkTimes enforces exp (required), nbf and iat (both optional) against
// now with the policy's symmetric skew. A token whose exp equals
// now-skew exactly is still accepted; anything past that is Expired.
func (v *Verifier) checkTimes(claims jwt.MapClaims, now time.Time) (exp, iat time.Time, err error) {
	skew := v.policy.Skew

	expDate, gerr := claims.GetExpirationTime()
	if gerr != nil {
		return time.Time{}, time.Time{}, core.FailWith(core.FailMalformed, gerr)
	}
	if expDate == nil {
		return time.Time{}, time.Time{}, core.Failf(core.FailMalformed, "missing exp claim")
	}
	if expDate.Time.Before(now.Add(-skew)) {
		return time.Time{}, time.Time{}, core.Failf(core.FailExpired, "token expired at %s", expDate.Time.Format(time.RFC3339Nano))
	}

	if nbfDate, gerr := claims.GetNotBefore(); gerr != nil {
		return time.Time{}, time.Time{}, core.FailWith(core.FailMalformed, gerr)
	} else if nbfDate != nil && now.Add(skew).Before(nbfDate.Time) {
		return time.Time{}, time.Time{}, core.Failf(core.FailNotYetValid, "token not valid before %s", nbfDate.Time.Format(time.RFC3339Nano))
	}

	iatDate, gerr := claims.GetIssuedAt()
	if gerr != nil {
		return time.Time{}, time.Time{}, core.FailWith(core.FailMalformed, gerr)
	}
	if iatDate != nil {
		if now.Add(skew).Before(iatDate.Time) {
			return time.Time{}, time.Time{}, core.Failf(core.FailNotYetValid, "token issued in the future at %s", iatDate.Time.Format(time.RFC3339Nano))
		}
		iat = iatDate.Time
	}
	return expDate.Time, iat, nil
}

func containsAudience(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}
