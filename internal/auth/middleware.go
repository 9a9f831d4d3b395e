// Package auth guards the internal control API with a static bearer token.
// The webhook endpoint stays public: the signaling platform does not send
// credentials, and the health endpoint is probed unauthenticated.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireStaticToken verifies a constant bearer token. The comparison is
// constant-time.
func RequireStaticToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		presented := []byte(strings.TrimPrefix(raw, bearerPrefix))
		if subtle.ConstantTimeCompare(presented, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
