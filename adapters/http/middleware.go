// Package authhttp adapts the token verifier to plain net/http, for
// consumers that do not use gin.
package authhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/tokenguard/core"
	"github.com/open-rails/tokenguard/verify"
)

type contextKey struct{}

// RequireToken wraps next with bearer-token validation. Failures answer 401
// with a generic body; the typed reason is logged internally only.
func RequireToken(v *verify.Verifier, log logrus.FieldLogger, next http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			unauthorized(w)
			return
		}
		claims, err := v.Verify(r.Context(), raw)
		if err != nil {
			kind, _ := core.KindOf(err)
			log.WithField("reason", string(kind)).WithError(err).Warn("token rejected")
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *core.VerifiedClaims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the verified claims set by RequireToken.
func ClaimsFromContext(ctx context.Context) (*core.VerifiedClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*core.VerifiedClaims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication failed"}`))
}

func bearer(r *http.Request) (string, bool) {
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
