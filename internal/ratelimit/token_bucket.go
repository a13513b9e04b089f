package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/averix/toolgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type TokenBucket struct {
	redis      *storage.RedisClient
	capacity   int     // Total Capacity of the bucket
	refillRate float64 // Tokens per second
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		redis:      redis,
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	var state bucketState

	if err == redis.Nil {
		// This is the first request
		// Initialize the bucket
		state = bucketState{
			Tokens:     float64(t.capacity),
			LastRefill: time.Now(),
		}
	} else if err != nil {
		return false, err
	} else {
		json.Unmarshal([]byte(data), &state)
	}

	// Refilling token based on time elapsed
	now := time.Now()
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * t.refillRate
	state.Tokens = math.Min(state.Tokens+tokensToAdd, float64(t.capacity))
	state.LastRefill = now

	// Consuming One Token for a request
	if state.Tokens >= 1 {
		state.Tokens -= 1

		// Saving the state in Redis
		stateJson, _ := json.Marshal(state)
		t.redis.Set(ctx, redisKey, stateJson, t.stateTTL())

		return true, nil
	}

	stateJson, _ := json.Marshal(state)
	t.redis.Set(ctx, redisKey, stateJson, t.stateTTL())

	return false, nil
}

// stateTTL keeps bucket state around until it would have fully
// refilled anyway
func (t *TokenBucket) stateTTL() time.Duration {
	ttl := t.Window() * 2
	if ttl < time.Hour {
		ttl = time.Hour
	}
	return ttl
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return t.capacity, nil
	}
	if err != nil {
		return 0, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	// Calculate current tokens with refill
	now := time.Now()
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * t.refillRate
	currentTokens := math.Min(state.Tokens+tokensToAdd, float64(t.capacity))

	return int(currentTokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	// For token bucket, window represents the time to fully refill
	return time.Duration(float64(t.capacity) / t.refillRate * float64(time.Second))
}

func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	// Calculate time until bucket is full again
	tokensNeeded := float64(t.capacity) - state.Tokens
	secondsToFull := tokensNeeded / t.refillRate

	return time.Now().Add(time.Duration(secondsToFull) * time.Second), nil
}

func (t *TokenBucket) Clear(ctx context.Context, key string) error {
	return t.redis.Del(ctx, fmt.Sprintf("ratelimit:bucket:%s", key))
}
