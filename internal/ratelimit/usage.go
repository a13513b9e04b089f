package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/storage"
)

// Scope names the cap window a result refers to
type Scope string

const (
	ScopeHour Scope = "hour"
	ScopeDay  Scope = "day"
)

// Caps are the effective usage limits for one user and tool. Zero
// disables a window.
type Caps struct {
	PerHour int
	PerDay  int

	// Algorithm drives the hourly window. The daily window is always
	// a fixed window.
	Algorithm string
}

// Result is the outcome of consuming one usage slot
type Result struct {
	Allowed bool

	// Scope is the window that denied, or the tightest active window
	// when allowed. Empty when no cap applies.
	Scope     Scope
	Limit     int
	Remaining int
	Reset     time.Time

	// FailedOpen marks an allow granted because the counter store was
	// unreachable and strict mode is off
	FailedOpen bool
}

// WindowUsage describes one window's current consumption
type WindowUsage struct {
	Scope     Scope     `json:"scope"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// UsageLimiter enforces per-user per-tool hour and day caps on top of
// the single-window limiters.
type UsageLimiter struct {
	redis  *storage.RedisClient
	strict bool
}

// NewUsageLimiter creates a usage limiter. With strict off, counter
// store failures let requests through rather than blocking every tool
// call on a dead Redis.
func NewUsageLimiter(redis *storage.RedisClient, strict bool) *UsageLimiter {
	return &UsageLimiter{redis: redis, strict: strict}
}

func usageKey(userID, tool string, scope Scope) string {
	suffix := "h"
	if scope == ScopeDay {
		suffix = "d"
	}
	return fmt.Sprintf("usage:%s:%s:%s", userID, tool, suffix)
}

func (u *UsageLimiter) hourLimiter(caps Caps) Limiter {
	return NewLimiter(u.redis, caps.Algorithm, caps.PerHour, time.Hour)
}

func (u *UsageLimiter) dayLimiter(caps Caps) Limiter {
	return NewFixedWindow(u.redis, caps.PerDay, 24*time.Hour)
}

// Allow consumes one slot from each active window, hour first. A
// returned error reports counter-store trouble; Allowed already
// reflects strict mode, so callers only need it for logging.
func (u *UsageLimiter) Allow(ctx context.Context, userID, tool string, caps Caps) (Result, error) {
	if caps.PerHour <= 0 && caps.PerDay <= 0 {
		return Result{Allowed: true}, nil
	}

	if caps.PerHour > 0 {
		limiter := u.hourLimiter(caps)
		key := usageKey(userID, tool, ScopeHour)

		ok, err := limiter.Allow(ctx, key)
		if err != nil {
			return u.failed(ScopeHour, caps.PerHour, err)
		}
		if !ok {
			return u.denied(ctx, limiter, key, ScopeHour), nil
		}
	}

	if caps.PerDay > 0 {
		limiter := u.dayLimiter(caps)
		key := usageKey(userID, tool, ScopeDay)

		ok, err := limiter.Allow(ctx, key)
		if err != nil {
			return u.failed(ScopeDay, caps.PerDay, err)
		}
		if !ok {
			// The hour slot consumed above stays consumed. Rare
			// enough to live with.
			return u.denied(ctx, limiter, key, ScopeDay), nil
		}
	}

	return u.granted(ctx, userID, tool, caps), nil
}

func (u *UsageLimiter) failed(scope Scope, limit int, err error) (Result, error) {
	if u.strict {
		return Result{Allowed: false, Scope: scope, Limit: limit}, err
	}
	return Result{Allowed: true, FailedOpen: true}, err
}

func (u *UsageLimiter) denied(ctx context.Context, limiter Limiter, key string, scope Scope) Result {
	reset, _ := limiter.Reset(ctx, key)
	return Result{
		Allowed: false,
		Scope:   scope,
		Limit:   limiter.Limit(),
		Reset:   reset,
	}
}

func (u *UsageLimiter) granted(ctx context.Context, userID, tool string, caps Caps) Result {
	var (
		limiter Limiter
		scope   Scope
	)

	// Report the hour window when both are active, it is the one the
	// caller hits first
	if caps.PerHour > 0 {
		limiter = u.hourLimiter(caps)
		scope = ScopeHour
	} else {
		limiter = u.dayLimiter(caps)
		scope = ScopeDay
	}

	key := usageKey(userID, tool, scope)
	remaining, err := limiter.Remaining(ctx, key)
	if err != nil {
		remaining = -1 // unknown, headers are best effort
	}
	reset, _ := limiter.Reset(ctx, key)

	return Result{
		Allowed:   true,
		Scope:     scope,
		Limit:     limiter.Limit(),
		Remaining: remaining,
		Reset:     reset,
	}
}

// Usage reports current consumption for every active window without
// consuming anything.
func (u *UsageLimiter) Usage(ctx context.Context, userID, tool string, caps Caps) ([]WindowUsage, error) {
	var windows []WindowUsage

	if caps.PerHour > 0 {
		limiter := u.hourLimiter(caps)
		key := usageKey(userID, tool, ScopeHour)

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			return nil, err
		}
		reset, err := limiter.Reset(ctx, key)
		if err != nil {
			return nil, err
		}

		windows = append(windows, WindowUsage{
			Scope:     ScopeHour,
			Limit:     caps.PerHour,
			Remaining: remaining,
			Reset:     reset,
		})
	}

	if caps.PerDay > 0 {
		limiter := u.dayLimiter(caps)
		key := usageKey(userID, tool, ScopeDay)

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			return nil, err
		}
		reset, err := limiter.Reset(ctx, key)
		if err != nil {
			return nil, err
		}

		windows = append(windows, WindowUsage{
			Scope:     ScopeDay,
			Limit:     caps.PerDay,
			Remaining: remaining,
			Reset:     reset,
		})
	}

	return windows, nil
}

// Clear wipes the user's counters for the tool in every window and
// every algorithm, so a definition's algorithm change never leaves
// stale state behind.
func (u *UsageLimiter) Clear(ctx context.Context, userID, tool string) error {
	hourKey := usageKey(userID, tool, ScopeHour)
	dayKey := usageKey(userID, tool, ScopeDay)

	limiters := []Limiter{
		NewFixedWindow(u.redis, 1, time.Hour),
		NewSlidingWindowLimiter(u.redis, 1, time.Hour),
		NewTokenBucket(u.redis, 1, 1),
	}

	for _, limiter := range limiters {
		if err := limiter.Clear(ctx, hourKey); err != nil {
			return err
		}
	}

	return NewFixedWindow(u.redis, 1, 24*time.Hour).Clear(ctx, dayKey)
}
