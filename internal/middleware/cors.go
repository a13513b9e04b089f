package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS serves the admin UI use case: an explicit origin allowlist from
// config. An empty list leaves cross-origin requests unanswered.
func CORS(allowOrigins []string) gin.HandlerFunc {
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
			break
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := ""
		if allowAll {
			allowed = "*"
		} else {
			for _, o := range allowOrigins {
				if o == origin {
					allowed = origin
					break
				}
			}
		}

		if allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Authorization", "X-Service-Key", "X-Request-ID",
			}, ", "))
			c.Header("Access-Control-Expose-Headers", strings.Join([]string{
				"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			}, ", "))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
