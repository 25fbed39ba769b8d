// Package jwks maintains a locally cached, time-bounded view of an identity
// provider's published signing keys, fetched from its JWKS endpoint and
// indexed by key id.
package jwks

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound is returned when the requested key id is absent from a
// fresh snapshot.
var ErrKeyNotFound = errors.New("jwks: key not found")

// FetchError wraps any failure to retrieve or parse the provider key set
// within the fetch timeout.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("jwks: fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// SigningKey is one provider public key, usable only for verification.
// Immutable once created.
type SigningKey struct {
	KeyID     string
	Algorithm string
	// Key is the raw public key material (*rsa.PublicKey, *ecdsa.PublicKey, ...).
	Key any
}

// Snapshot is one fetched view of the provider key set. It is never mutated
// after construction; refreshes replace the whole snapshot atomically.
type Snapshot struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
	expiresAt time.Time
}

// Lookup returns the key with the given id, if present.
func (s *Snapshot) Lookup(kid string) (SigningKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// Fresh reports whether the snapshot is still within its validity window.
func (s *Snapshot) Fresh(now time.Time) bool {
	return now.Before(s.expiresAt)
}

// FetchedAt returns when the snapshot was retrieved.
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// Len returns the number of keys held.
func (s *Snapshot) Len() int { return len(s.keys) }

const (
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 10 * time.Second
	maxJWKSBody    = 1 << 20
)

// Options configures a Cache.
type Options struct {
	// URL of the provider's JWKS endpoint. Required.
	URL string
	// TTL bounds snapshot freshness. Defaults to 5m.
	TTL time.Duration
	// MaxStale, when positive, lets lookups fall back to an expired snapshot
	// for this long after a failed refresh. Zero (the default) propagates
	// the fetch error instead: rejecting requests is preferred over
	// verifying against a possibly superseded key set.
	MaxStale time.Duration
	// Timeout bounds each outbound fetch. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient overrides the client used for fetches.
	HTTPClient *http.Client
	// PinnedRSAPEM optionally supplies a PEM public key served under
	// PinnedKeyID as a degraded last resort when the provider is down and
	// no snapshot is usable.
	PinnedRSAPEM string
	PinnedKeyID  string
	// Logger receives refresh diagnostics. Defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Cache holds the current key set snapshot and refreshes it on demand.
// Concurrent refreshes collapse into a single outbound fetch; readers may
// keep serving a stale-but-unexpired snapshot while a refresh is in flight.
type Cache struct {
	url      string
	ttl      time.Duration
	maxStale time.Duration
	timeout  time.Duration
	client   *http.Client
	pinned   *rsa.PublicKey
	pinnedID string
	log      logrus.FieldLogger

	mu   sync.RWMutex
	snap *Snapshot

	group   singleflight.Group
	fetches atomic.Int64
}

// New constructs a Cache. No network traffic happens until the first lookup
// or Refresh.
func New(opts Options) (*Cache, error) {
	if opts.URL == "" {
		return nil, errors.New("jwks: endpoint URL required")
	}
	c := &Cache{
		url:      opts.URL,
		ttl:      opts.TTL,
		maxStale: opts.MaxStale,
		timeout:  opts.Timeout,
		client:   opts.HTTPClient,
		pinnedID: opts.PinnedKeyID,
		log:      opts.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if opts.PinnedRSAPEM != "" {
		pub, err := jwtgo.ParseRSAPublicKeyFromPEM([]byte(opts.PinnedRSAPEM))
		if err != nil {
			return nil, fmt.Errorf("jwks: parse pinned key: %w", err)
		}
		c.pinned = pub
	}
	return c, nil
}

// GetKey resolves kid against the current snapshot. On a miss with a stale
// (or absent) snapshot it refreshes once and retries; a miss against a fresh
// snapshot reports ErrKeyNotFound immediately, so repeated probing with
// made-up key ids cannot force a fetch per request.
func (c *Cache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	now := time.Now()
	snap := c.snapshot()
	if snap != nil {
		if k, ok := snap.Lookup(kid); ok {
			return k, nil
		}
		if snap.Fresh(now) {
			return SigningKey{}, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
		}
	}

	fresh, err := c.Refresh(ctx)
	if err != nil {
		if k, ok := c.degraded(now, kid); ok {
			return k, nil
		}
		return SigningKey{}, err
	}
	if k, ok := fresh.Lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

// Refresh fetches the provider key set and atomically replaces the held
// snapshot. Concurrent callers share a single outbound fetch and all observe
// its outcome.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Fetches returns how many outbound key set fetches have been attempted.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

// Current returns the held snapshot, which may be nil before the first
// successful refresh.
func (c *Cache) Current() *Snapshot { return c.snapshot() }

func (c *Cache) snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// degraded applies the fallback policy after a failed refresh: an expired
// snapshot still within MaxStale, then the pinned key, if configured.
func (c *Cache) degraded(now time.Time, kid string) (SigningKey, bool) {
	if c.maxStale > 0 {
		if snap := c.snapshot(); snap != nil && now.Before(snap.expiresAt.Add(c.maxStale)) {
			if k, ok := snap.Lookup(kid); ok {
				c.log.WithField("kid", kid).Warn("jwks refresh failed, serving stale key")
				return k, true
			}
		}
	}
	if c.pinned != nil && kid == c.pinnedID {
		c.log.WithField("kid", kid).Warn("jwks refresh failed, serving pinned key")
		return SigningKey{KeyID: kid, Algorithm: "RS256", Key: c.pinned}, true
	}
	return SigningKey{}, false
}

func (c *Cache) fetch(ctx context.Context) (*Snapshot, error) {
	c.fetches.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("parse key set: %w", err)}
	}

	now := time.Now()
	keys := make(map[string]SigningKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			c.log.WithField("kid", kid).WithError(err).Warn("skipping unusable key in key set")
			continue
		}
		alg := ""
		if a := key.Algorithm(); a != nil {
			alg = a.String()
		}
		keys[kid] = SigningKey{KeyID: kid, Algorithm: alg, Key: raw}
	}
	if len(keys) == 0 {
		return nil, &FetchError{URL: c.url, Err: errors.New("key set contains no usable keys")}
	}

	snap := &Snapshot{keys: keys, fetchedAt: now, expiresAt: now.Add(c.ttl)}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"keys": len(keys), "expires_at": snap.expiresAt}).Debug("jwks snapshot refreshed")
	return snap, nil
}
