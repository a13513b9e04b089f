package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// GlobalRateLimit caps total request throughput with an in-process
// token bucket, a cheap guard in front of the Redis limiters. Zero rps
// disables it.
func GlobalRateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Service overloaded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
