package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jobpilot/browserd/internal/shared/types"
)

// BearerAuth rejects requests whose Authorization header does not carry the
// configured API token. An empty configured token disables the check, which
// is the local-development mode.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, types.Failure("invalid or missing API token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
