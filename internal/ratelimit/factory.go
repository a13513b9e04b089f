package ratelimit

import (
	"time"

	"github.com/averix/toolgate/internal/storage"
)

func NewLimiter(redis *storage.RedisClient, algorithm string, limit int, window time.Duration) Limiter {
	switch algorithm {
	case "token_bucket":
		return NewTokenBucket(redis, limit, float64(limit)/window.Seconds())
	case "sliding_window":
		return NewSlidingWindowLimiter(redis, limit, window)
	case "fixed_window":
		return NewFixedWindow(redis, limit, window)
	default:
		return NewFixedWindow(redis, limit, window)
	}
}
