// Package config builds the process trust policy from environment
// variables. The surrounding deployment (container app, parameter files)
// owns these values; this package only assembles them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/open-rails/tokenguard/core"
)

// Entra issuer URL templates. A single tenant can mint tokens under both the
// legacy v1 shape and the current v2 shape, so a trust policy built from a
// tenant id lists both variants.
const (
	issuerV1Template = "https://sts.windows.net/%s/"
	issuerV2Template = "https://login.microsoftonline.com/%s/v2.0"
	jwksURLTemplate  = "https://login.microsoftonline.com/%s/discovery/v2.0/keys"
)

// Defaults applied when the corresponding variables are unset.
const (
	DefaultSkew     = 60 * time.Second
	DefaultCacheTTL = 5 * time.Minute
	DefaultPort     = "8080"
)

// Config is the assembled deployment configuration for the backend service.
type Config struct {
	TenantID string
	ClientID string

	Issuers    []string
	Audience   string
	Algorithms []string
	JWKSURL    string
	Skew       time.Duration
	CacheTTL   time.Duration
	MaxStale   time.Duration

	Port            string
	RedisAddr       string
	RefreshSchedule string
}

// FromEnv reads the environment and assembles the trust configuration.
//
// Entra mode (AZURE_TENANT_ID + AZURE_CLIENT_ID set): the v1 and v2 issuer
// variants, the api://{client} audience, and the tenant key set URL are all
// derived from the tenant and client ids.
//
// Generic mode (ISSUER set instead): any OIDC provider; AUDIENCE is
// required, and when JWKS_URL is not given the key set location is resolved
// via discovery at startup.
//
// Optional in both modes: AUDIENCE, ISSUERS (comma-separated), JWKS_URL,
// ALGORITHMS (comma-separated), CLOCK_SKEW, JWKS_CACHE_TTL, JWKS_MAX_STALE,
// JWKS_REFRESH_SCHEDULE, PORT, REDIS_ADDR.
func FromEnv() (*Config, error) {
	tenantID := strings.TrimSpace(os.Getenv("AZURE_TENANT_ID"))
	clientID := strings.TrimSpace(os.Getenv("AZURE_CLIENT_ID"))
	issuer := strings.TrimSpace(os.Getenv("ISSUER"))

	cfg := &Config{
		TenantID:        tenantID,
		ClientID:        clientID,
		Algorithms:      []string{"RS256"},
		Skew:            DefaultSkew,
		CacheTTL:        DefaultCacheTTL,
		Port:            DefaultPort,
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RefreshSchedule: strings.TrimSpace(os.Getenv("JWKS_REFRESH_SCHEDULE")),
	}

	switch {
	case tenantID != "" && clientID != "":
		cfg.Issuers = []string{
			fmt.Sprintf(issuerV1Template, tenantID),
			fmt.Sprintf(issuerV2Template, tenantID),
		}
		cfg.Audience = "api://" + clientID
		cfg.JWKSURL = fmt.Sprintf(jwksURLTemplate, tenantID)
	case issuer != "":
		cfg.Issuers = []string{issuer}
		if cfg.Audience = strings.TrimSpace(os.Getenv("AUDIENCE")); cfg.Audience == "" {
			return nil, fmt.Errorf("config: AUDIENCE is required with ISSUER")
		}
	default:
		return nil, fmt.Errorf("config: set AZURE_TENANT_ID and AZURE_CLIENT_ID, or ISSUER")
	}

	if v := strings.TrimSpace(os.Getenv("AUDIENCE")); v != "" {
		cfg.Audience = v
	}
	if v := strings.TrimSpace(os.Getenv("ISSUERS")); v != "" {
		cfg.Issuers = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("JWKS_URL")); v != "" {
		cfg.JWKSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ALGORITHMS")); v != "" {
		cfg.Algorithms = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Port = v
	}

	var err error
	if cfg.Skew, err = durationEnv("CLOCK_SKEW", cfg.Skew); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("JWKS_CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.MaxStale, err = durationEnv("JWKS_MAX_STALE", cfg.MaxStale); err != nil {
		return nil, err
	}

	if err := cfg.TrustPolicy().Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// TrustPolicy returns the verification policy this configuration describes.
func (c *Config) TrustPolicy() core.TrustPolicy {
	return core.TrustPolicy{
		Issuers:    c.Issuers,
		Audience:   c.Audience,
		Algorithms: c.Algorithms,
		Skew:       c.Skew,
		JWKSURL:    c.JWKSURL,
		CacheTTL:   c.CacheTTL,
		MaxStale:   c.MaxStale,
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", name, err)
	}
	return d, nil
}
