package core

import (
	"github.com/gin-gonic/gin"
)

// RequireRole ensures the verified token carries role. Must run after RequireToken.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			writeError(c, ErrTokenInvalid)
			c.Abort()
			return
		}
		if !claims.HasRole(role) {
			writeError(c, ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
