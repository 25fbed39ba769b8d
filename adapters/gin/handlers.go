package authgin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health returns a liveness handler reporting the service identity and the
// tenant/client it is configured for. Unauthenticated.
func Health(service, tenantID, clientID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"tenant_id": tenantID,
			"client_id": clientID,
		})
	}
}

// Protected answers with the caller's identity and token window. Requires
// AuthRequired upstream.
func Protected() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   "Successfully accessed protected resource",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"user": gin.H{
				"upn":  orNA(claims.String("upn")),
				"name": orNA(claims.String("name")),
				"oid":  orNA(claims.String("oid")),
			},
			"token_info": gin.H{
				"issuer":     claims.Issuer,
				"audience":   claims.Audience,
				"issued_at":  claims.IssuedAt.UTC().Format(time.RFC3339),
				"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// TokenInfo echoes the full verified claim set back to the caller. Requires
// AuthRequired upstream.
func TokenInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Token decoded successfully",
			"claims":  claims.Raw,
		})
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
