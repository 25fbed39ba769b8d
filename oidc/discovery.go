package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Document is the subset of the OIDC discovery metadata this kit consumes.
// Verification only needs the key set location; the token endpoint is kept
// for token-acquisition tooling.
type Document struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

// Discover fetches the issuer's well-known OIDC configuration and returns
// the parsed document. The issuer in the document must match the requested
// issuer (modulo a trailing slash).
func Discover(ctx context.Context, issuer string, client *http.Client) (*Document, error) {
	trimmed := strings.TrimRight(issuer, "/")
	if trimmed == "" {
		return nil, errors.New("oidc: issuer is empty")
	}
	if client == nil {
		client = http.DefaultClient
	}

	discoveryURL := trimmed + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oidc: discovery failed: %s", resp.Status)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	if discovered := strings.TrimRight(doc.Issuer, "/"); discovered != "" && discovered != trimmed {
		return nil, fmt.Errorf("oidc: issuer mismatch: %s", doc.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("oidc: discovery missing jwks_uri")
	}
	return &doc, nil
}

// JWKSURL resolves the key set endpoint for an issuer, preferring an
// explicitly configured URL over discovery.
func JWKSURL(ctx context.Context, issuer, explicit string, client *http.Client) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	doc, err := Discover(ctx, issuer, client)
	if err != nil {
		return "", err
	}
	return doc.JWKSURI, nil
}
