package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/open-rails/tokenguard/core"
)

// ClaimsFromGin returns the verified claims for the current request, set by
// AuthRequired. ok is false on unauthenticated requests.
func ClaimsFromGin(c *gin.Context) (*core.VerifiedClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*core.VerifiedClaims)
	return claims, ok
}
