// Package authgin adapts the token verifier to gin. It owns the HTTP-side
// concerns the core stays out of: bearer extraction, status mapping, and
// what to reveal to the caller versus what to log internally.
package authgin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/tokenguard/core"
	"github.com/open-rails/tokenguard/verify"
)

const claimsKey = "auth.claims"

// Rate limit bucket for failed validation attempts, keyed by client IP.
const failBucket = "auth_fail"

// RateLimiter is the sliding-window interface satisfied by the memory and
// redis limiters.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// Config wires the middleware's collaborators. Verifier is required; the
// rest are optional.
type Config struct {
	Verifier *verify.Verifier
	// Limiter throttles failed validation attempts per client IP, bounding
	// token-forgery probing. Nil disables throttling.
	Limiter RateLimiter
	// Events receives validation outcomes, best-effort.
	Events core.AuthEventLogger
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

func (cfg *Config) logger() logrus.FieldLogger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logrus.StandardLogger()
}

// RequestID assigns each request a UUID, echoed in the X-Request-Id header
// and attached to log entries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AuthRequired validates the bearer token on every request and aborts with
// 401 when validation fails. The response body carries a generic message;
// the typed failure reason stays in internal logs so rejections do not aid
// forgery probing.
func AuthRequired(cfg Config) gin.HandlerFunc {
	log := cfg.logger()
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.Request)
		if !ok {
			log.WithField("path", c.Request.URL.Path).Warn("missing or malformed Authorization header")
			abortUnauthorized(c)
			return
		}

		claims, err := cfg.Verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			kind, _ := core.KindOf(err)
			entry := log.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"reason": string(kind),
				"ip":     c.ClientIP(),
			})
			entry.WithError(err).Warn("token rejected")
			recordEvent(cfg, c, "", kind)

			if cfg.Limiter != nil {
				allowed, lerr := cfg.Limiter.AllowNamed(failBucket, c.ClientIP())
				if lerr != nil {
					entry.WithError(lerr).Warn("rate limiter unavailable")
				} else if !allowed {
					c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
					return
				}
			}
			abortUnauthorized(c)
			return
		}

		log.WithFields(logrus.Fields{
			"sub": claims.Subject,
			"iss": claims.Issuer,
			"aud": claims.Audience,
			"exp": claims.ExpiresAt,
		}).Info("token validated")
		recordEvent(cfg, c, claims.Subject, "")

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func recordEvent(cfg Config, c *gin.Context, subject string, kind core.FailureKind) {
	if cfg.Events == nil {
		return
	}
	ip := c.ClientIP()
	ua := c.Request.UserAgent()
	// Sink failures are deliberately ignored; auditing never fails a request.
	_ = cfg.Events.LogValidation(c.Request.Context(), subject, "", kind, &ip, &ua)
}

func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme keyword is case-insensitive per RFC 6750.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
