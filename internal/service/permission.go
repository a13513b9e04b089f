package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/permissions"
	"github.com/averix/toolgate/internal/ratelimit"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/storage"
	"github.com/averix/toolgate/internal/usage"
	"go.uber.org/zap"
)

var ErrInvalidPlan = errors.New("invalid plan tier")

const overrideCacheTTL = 5 * time.Minute

// CheckRequest describes one tool access question
type CheckRequest struct {
	UserID    string
	Plan      string
	Roles     []string
	Flags     []string
	Suspended bool
	Tool      string

	// DryRun evaluates without consuming a usage slot
	DryRun bool

	// Service is the calling service, from its token
	Service string
}

// LimitInfo reports the state of the tightest usage window
type LimitInfo struct {
	Scope     string    `json:"scope"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// CheckResult is the answer to one check
type CheckResult struct {
	Tool    string     `json:"tool"`
	Allowed bool       `json:"allowed"`
	Reason  string     `json:"reason"`
	Limit   *LimitInfo `json:"limit,omitempty"`
}

// PermissionService evaluates tool access and enforces usage caps
type PermissionService struct {
	checker   *permissions.Checker
	overrides *repository.ToolOverrideRepository
	limiter   *ratelimit.UsageLimiter
	redis     *storage.RedisClient
	recorder  *usage.Recorder
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewPermissionService(
	checker *permissions.Checker,
	overrides *repository.ToolOverrideRepository,
	limiter *ratelimit.UsageLimiter,
	redis *storage.RedisClient,
	recorder *usage.Recorder,
	logger *zap.Logger,
	m *metrics.Metrics,
) *PermissionService {
	return &PermissionService{
		checker:   checker,
		overrides: overrides,
		limiter:   limiter,
		redis:     redis,
		recorder:  recorder,
		logger:    logger,
		metrics:   m,
	}
}

func (s *PermissionService) Registry() *permissions.Registry {
	return s.checker.Registry()
}

// Check answers whether the user may use the tool right now. Unless
// DryRun is set, an allow consumes one usage slot per active window.
func (s *PermissionService) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	actx, err := s.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.evaluate(ctx, actx, req.Tool, req.Service, req.DryRun), nil
}

// CheckBatch evaluates several tools in one shot. Batch checks never
// consume usage slots, they answer "what could this user do".
func (s *PermissionService) CheckBatch(ctx context.Context, req CheckRequest, tools []string) ([]CheckResult, error) {
	actx, err := s.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]CheckResult, 0, len(tools))
	for _, tool := range tools {
		results = append(results, *s.evaluate(ctx, actx, tool, req.Service, true))
	}

	return results, nil
}

func (s *PermissionService) buildContext(ctx context.Context, req CheckRequest) (*permissions.AccessContext, error) {
	plan, err := permissions.ParsePlan(req.Plan)
	if err != nil {
		return nil, ErrInvalidPlan
	}

	overrides, err := s.resolveOverrides(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve overrides: %w", err)
	}

	return &permissions.AccessContext{
		UserID:    req.UserID,
		Plan:      plan,
		Roles:     req.Roles,
		Flags:     req.Flags,
		Suspended: req.Suspended,
		Overrides: overrides,
	}, nil
}

func (s *PermissionService) evaluate(ctx context.Context, actx *permissions.AccessContext, tool, callerService string, dryRun bool) *CheckResult {
	start := time.Now()

	decision := s.checker.Evaluate(actx, tool)
	result := &CheckResult{
		Tool:    tool,
		Allowed: decision.Allowed,
		Reason:  string(decision.Reason),
	}

	if decision.Allowed && decision.Limited() {
		s.applyLimits(ctx, actx.UserID, tool, decision, dryRun, result)
	}

	elapsed := time.Since(start)
	s.metrics.RecordCheck(result.Allowed, result.Reason, elapsed.Seconds())
	s.recorder.Record(&models.UsageRecord{
		UserID:    actx.UserID,
		Tool:      tool,
		Plan:      actx.Plan.String(),
		Service:   callerService,
		Allowed:   result.Allowed,
		Reason:    result.Reason,
		DryRun:    dryRun,
		LatencyUs: elapsed.Microseconds(),
		CreatedAt: time.Now(),
	})

	return result
}

func (s *PermissionService) applyLimits(ctx context.Context, userID, tool string, decision permissions.Decision, dryRun bool, result *CheckResult) {
	perHour, perDay := decision.Limits()
	caps := ratelimit.Caps{
		PerHour:   perHour,
		PerDay:    perDay,
		Algorithm: limitAlgorithm(decision),
	}

	if dryRun {
		// Report the window state without consuming
		windows, err := s.limiter.Usage(ctx, userID, tool, caps)
		if err != nil {
			s.metrics.RecordLimiterFailure()
			s.logger.Warn("usage lookup failed",
				zap.String("user_id", userID),
				zap.String("tool", tool),
				zap.Error(err),
			)
			return
		}

		// Any exhausted window denies the dry run too
		for _, w := range windows {
			if w.Remaining == 0 {
				result.Allowed = false
				result.Reason = string(permissions.ReasonRateLimited)
				result.Limit = &LimitInfo{
					Scope: string(w.Scope),
					Limit: w.Limit,
					Reset: w.Reset,
				}
				return
			}
		}

		if len(windows) > 0 {
			w := windows[0]
			result.Limit = &LimitInfo{
				Scope:     string(w.Scope),
				Limit:     w.Limit,
				Remaining: w.Remaining,
				Reset:     w.Reset,
			}
		}
		return
	}

	res, err := s.limiter.Allow(ctx, userID, tool, caps)
	if err != nil {
		s.metrics.RecordLimiterFailure()
		s.logger.Warn("usage limiter failure",
			zap.String("user_id", userID),
			zap.String("tool", tool),
			zap.Bool("failed_open", res.FailedOpen),
			zap.Error(err),
		)
	}

	if !res.Allowed {
		result.Allowed = false
		result.Reason = string(permissions.ReasonRateLimited)
		result.Limit = &LimitInfo{
			Scope: string(res.Scope),
			Limit: res.Limit,
			Reset: res.Reset,
		}
		s.metrics.RecordRateLimited(string(res.Scope))
		return
	}

	if res.Scope != "" {
		result.Limit = &LimitInfo{
			Scope:     string(res.Scope),
			Limit:     res.Limit,
			Remaining: res.Remaining,
			Reset:     res.Reset,
		}
	}
}

func limitAlgorithm(decision permissions.Decision) string {
	if decision.Definition != nil {
		return decision.Definition.Algorithm
	}
	return ""
}

// resolveOverrides loads the user's active overrides through a short
// lived cache, same pattern as token validation.
func (s *PermissionService) resolveOverrides(ctx context.Context, userID string) (map[string]permissions.Override, error) {
	cacheKey := fmt.Sprintf("overrides:cache:%s", userID)
	cached, err := s.redis.Get(ctx, cacheKey)

	if err == nil && cached != "" {
		var overrides map[string]permissions.Override
		if err := json.Unmarshal([]byte(cached), &overrides); err == nil {
			s.metrics.RecordCache("override", "hit")
			return overrides, nil
		}
	}

	s.metrics.RecordCache("override", "miss")

	rows, err := s.overrides.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]permissions.Override, len(rows))
	for _, row := range rows {
		overrides[row.Tool] = permissions.Override{
			Tool:    row.Tool,
			Allow:   row.Effect == models.OverrideAllow,
			PerHour: row.PerHour,
			PerDay:  row.PerDay,
		}
	}

	payload, _ := json.Marshal(overrides)
	s.redis.Set(ctx, cacheKey, payload, overrideCacheTTL)

	return overrides, nil
}
