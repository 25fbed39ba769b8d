package authhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/open-rails/tokenguard/jwks"
	authtest "github.com/open-rails/tokenguard/testing"
	"github.com/open-rails/tokenguard/verify"
)

func newHandler(t *testing.T, ti *authtest.TestIssuer) http.Handler {
	t.Helper()
	policy := ti.TrustPolicy()
	cache, err := jwks.New(jwks.Options{URL: policy.JWKSURL, TTL: policy.CacheTTL})
	if err != nil {
		t.Fatalf("jwks.New: %v", err)
	}
	verifier, err := verify.New(policy, cache)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}
	return RequireToken(verifier, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "claims missing", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(claims.Subject))
	}))
}

func TestRequireTokenValid(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	h := newHandler(t, ti)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+ti.CreateToken("user-123"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "user-123" {
		t.Errorf("subject = %q, want user-123", got)
	}
}

func TestRequireTokenRejects(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	h := newHandler(t, ti)

	for _, header := range []string{"", "Bearer garbage", "Basic dXNlcjpwYXNz", "Bearer " + ti.CreateExpiredToken("user-123")} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, w.Code)
		}
		if got := w.Body.String(); got != `{"error":"authentication failed"}` {
			t.Errorf("header %q: body = %s, want generic error", header, got)
		}
	}
}
