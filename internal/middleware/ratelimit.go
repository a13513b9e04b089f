package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/ratelimit"
	"github.com/averix/toolgate/internal/storage"
	"github.com/gin-gonic/gin"
)

// TokenRateLimit throttles request traffic per service token. This is
// transport protection for the service itself, separate from the
// per-user usage caps the checks enforce.
func TokenRateLimit(redis *storage.RedisClient, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		limit := cfg.RateLimit.TokenPerMinute

		// Key on the token when one authenticated, the client IP
		// otherwise
		tokenInterface, exists := c.Get("service_token")

		if exists && tokenInterface != nil {
			token := tokenInterface.(*models.ServiceToken)
			key = token.ID.String()

			// A token can carry its own limit
			if token.PerMinute > 0 {
				limit = token.PerMinute
			}
		} else {
			key = c.ClientIP()
		}

		if limit <= 0 {
			c.Next()
			return
		}

		limiter := ratelimit.NewFixedWindow(redis, limit, time.Minute)

		// Check Rate Limit
		ctx := c.Request.Context()
		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			// A dead Redis must not take request traffic down with it
			c.Next()
			return
		}

		// Get remaining count
		remaining, _ := limiter.Remaining(ctx, key)

		// Get reset time
		resetTime, _ := limiter.Reset(ctx, key)

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

		if !allowed {
			retryAfter := int(time.Until(resetTime).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"limit":       limit,
				"retry_after": resetTime.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
