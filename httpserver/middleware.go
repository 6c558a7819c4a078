package httpserver

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

// apiKeyMiddleware rejects any request whose X-API-Key header does not
// match apiKey with 401, using a constant-time comparison so response
// timing can't leak the key.
func apiKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("X-API-Key")
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(apiKey)) != 1 {
			writeError(c, 401, "unauthorized", "missing or invalid X-API-Key")
			c.Abort()
			return
		}

		c.Next()
	}
}

// writeError renders the §6 error envelope.
func writeError(c *gin.Context, status int, code, detail string) {
	c.JSON(status, gin.H{"error": code, "detail": detail})
}
