package middleware

import (
	"net/http"
	"strings"

	"github.com/averix/toolgate/internal/service"
	"github.com/gin-gonic/gin"
)

// RequireServiceToken authenticates the calling service via the
// X-Service-Key header. Every check route sits behind it.
func RequireServiceToken(tokens *service.ServiceTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("X-Service-Key"))

		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "X-Service-Key header required",
			})
			c.Abort()
			return
		}

		// Validate service token
		ctx := c.Request.Context()
		token, err := tokens.Validate(ctx, header)

		if err != nil || token == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid service token",
			})
			c.Abort()
			return
		}

		c.Set("service_token", token)
		c.Set("service_token_id", token.ID)
		c.Set("service", token.Service)

		tokens.UpdateLastUsed(ctx, token.ID)

		c.Next()
	}
}
