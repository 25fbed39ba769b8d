package oidckit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discoveryServer(doc func(issuer string) string) *httptest.Server {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc(srv.URL)))
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestDiscover(t *testing.T) {
	srv := discoveryServer(func(issuer string) string {
		return `{"issuer":"` + issuer + `","token_endpoint":"` + issuer + `/token","jwks_uri":"` + issuer + `/keys"}`
	})
	defer srv.Close()

	doc, err := Discover(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if doc.JWKSURI != srv.URL+"/keys" {
		t.Errorf("jwks_uri = %q, want %q", doc.JWKSURI, srv.URL+"/keys")
	}
}

func TestDiscoverIssuerMismatch(t *testing.T) {
	srv := discoveryServer(func(string) string {
		return `{"issuer":"https://someone-else.example.com","jwks_uri":"https://someone-else.example.com/keys"}`
	})
	defer srv.Close()

	if _, err := Discover(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("Discover accepted a mismatched issuer")
	}
}

func TestDiscoverMissingJWKSURI(t *testing.T) {
	srv := discoveryServer(func(issuer string) string {
		return `{"issuer":"` + issuer + `"}`
	})
	defer srv.Close()

	if _, err := Discover(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("Discover accepted a document without jwks_uri")
	}
}

func TestJWKSURLPrefersExplicit(t *testing.T) {
	// No server: an explicit URL must short-circuit discovery entirely.
	got, err := JWKSURL(context.Background(), "https://unreachable.example.com", "https://cdn.example.com/keys", nil)
	if err != nil {
		t.Fatalf("JWKSURL: %v", err)
	}
	if got != "https://cdn.example.com/keys" {
		t.Errorf("got %q", got)
	}
}
