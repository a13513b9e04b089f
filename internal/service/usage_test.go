package service

import (
	"context"
	"testing"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/permissions"
	"github.com/averix/toolgate/internal/ratelimit"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type usageDeps struct {
	svc       *UsageService
	records   *repository.UsageRecordRepository
	overrides *repository.ToolOverrideRepository
	limiter   *ratelimit.UsageLimiter
	registry  *permissions.Registry
}

func newUsageService(t *testing.T, retentionDays int) usageDeps {
	t.Helper()

	db := testutil.NewTestDB(t)
	_, redis := testutil.NewTestRedis(t)

	records := repository.NewUsageRecordRepository(db)
	overrides := repository.NewToolOverrideRepository(db)
	limiter := ratelimit.NewUsageLimiter(redis, false)

	registry, err := permissions.NewRegistry(permissions.Builtin())
	require.NoError(t, err)

	svc := NewUsageService(records, overrides, registry, limiter, zap.NewNop(), retentionDays)

	return usageDeps{svc: svc, records: records, overrides: overrides, limiter: limiter, registry: registry}
}

func TestUsageSummary(t *testing.T) {
	d := newUsageService(t, 30)
	ctx := context.Background()
	now := time.Now()

	rows := []struct {
		tool    string
		allowed bool
		reason  string
		latency int64
	}{
		{"chat", true, "ok", 400},
		{"chat", true, "ok", 600},
		{"web_search", true, "ok", 2000},
		{"code_execution", false, "plan_too_low", 300},
		{"web_search", false, "rate_limited", 700},
	}
	for _, r := range rows {
		require.NoError(t, d.records.Create(ctx, &models.UsageRecord{
			UserID: "u1", Tool: r.tool, Plan: "free",
			Allowed: r.allowed, Reason: r.reason, LatencyUs: r.latency,
		}))
	}

	summary, err := d.svc.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Total)
	assert.Equal(t, int64(3), summary.Allowed)
	assert.Equal(t, int64(2), summary.Denied)
	assert.InDelta(t, 800.0, summary.AvgLatencyUs, 0.1)

	reasons := map[string]int64{}
	for _, r := range summary.DenialReasons {
		reasons[r.Reason] = r.Count
	}
	assert.Equal(t, int64(1), reasons["plan_too_low"])
	assert.Equal(t, int64(1), reasons["rate_limited"])

	require.NotEmpty(t, summary.TopTools)
	assert.Equal(t, "chat", summary.TopTools[0].Tool)
	assert.Equal(t, int64(2), summary.TopTools[0].Count)
}

func TestUsageUserUsage(t *testing.T) {
	d := newUsageService(t, 30)
	ctx := context.Background()

	// burn two web_search slots
	caps := ratelimit.Caps{PerHour: 50, PerDay: 300, Algorithm: "sliding_window"}
	for i := 0; i < 2; i++ {
		res, err := d.limiter.Allow(ctx, "u1", "web_search", caps)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// an override only tool carries its own caps
	require.NoError(t, d.overrides.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "beta_agent", Effect: models.OverrideAllow, PerHour: 5,
	}))

	usages, err := d.svc.UserUsage(ctx, "u1")
	require.NoError(t, err)

	byTool := map[string]ToolUsage{}
	for _, u := range usages {
		byTool[u.Tool] = u
	}

	search, ok := byTool["web_search"]
	require.True(t, ok)
	require.Len(t, search.Windows, 2)
	assert.Equal(t, ratelimit.ScopeHour, search.Windows[0].Scope)
	assert.Equal(t, 48, search.Windows[0].Remaining)
	assert.Equal(t, ratelimit.ScopeDay, search.Windows[1].Scope)
	assert.Equal(t, 298, search.Windows[1].Remaining)

	beta, ok := byTool["beta_agent"]
	require.True(t, ok)
	require.Len(t, beta.Windows, 1)
	assert.Equal(t, 5, beta.Windows[0].Limit)
	assert.Equal(t, 5, beta.Windows[0].Remaining)

	// uncapped tools stay out of the report
	_, ok = byTool["chat"]
	assert.False(t, ok)
}

func TestUsageUserUsageOverrideTightensCaps(t *testing.T) {
	d := newUsageService(t, 30)
	ctx := context.Background()

	require.NoError(t, d.overrides.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "web_search", Effect: models.OverrideAllow, PerHour: 3,
	}))

	usages, err := d.svc.UserUsage(ctx, "u1")
	require.NoError(t, err)

	for _, u := range usages {
		if u.Tool != "web_search" {
			continue
		}
		assert.Equal(t, 3, u.Windows[0].Limit)
		assert.Equal(t, 300, u.Windows[1].Limit, "day cap keeps the definition value")
		return
	}
	t.Fatal("web_search missing from usage report")
}

func TestUsageReset(t *testing.T) {
	d := newUsageService(t, 30)
	ctx := context.Background()

	caps := ratelimit.Caps{PerHour: 20, PerDay: 100}
	for i := 0; i < 3; i++ {
		res, err := d.limiter.Allow(ctx, "u1", "file_upload", caps)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	windows, err := d.limiter.Usage(ctx, "u1", "file_upload", caps)
	require.NoError(t, err)
	assert.Equal(t, 17, windows[0].Remaining)

	t.Run("single tool", func(t *testing.T) {
		n, err := d.svc.Reset(ctx, "u1", "file_upload")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		windows, err := d.limiter.Usage(ctx, "u1", "file_upload", caps)
		require.NoError(t, err)
		assert.Equal(t, 20, windows[0].Remaining)
		assert.Equal(t, 100, windows[1].Remaining)
	})

	t.Run("all tools", func(t *testing.T) {
		_, err := d.limiter.Allow(ctx, "u1", "file_upload", caps)
		require.NoError(t, err)

		require.NoError(t, d.overrides.Upsert(ctx, &models.ToolOverride{
			UserID: "u1", Tool: "beta_agent", Effect: models.OverrideAllow, PerHour: 5,
		}))

		n, err := d.svc.Reset(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, len(d.registry.Tools())+1, n)

		windows, err := d.limiter.Usage(ctx, "u1", "file_upload", caps)
		require.NoError(t, err)
		assert.Equal(t, 20, windows[0].Remaining)
	})
}

func TestUsageCleanup(t *testing.T) {
	d := newUsageService(t, 30)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	require.NoError(t, d.records.Create(ctx, &models.UsageRecord{
		UserID: "u1", Tool: "chat", Allowed: true, Reason: "ok", CreatedAt: old,
	}))
	require.NoError(t, d.records.Create(ctx, &models.UsageRecord{
		UserID: "u1", Tool: "chat", Allowed: true, Reason: "ok", CreatedAt: fresh,
	}))

	expired := time.Now().Add(-time.Minute)
	live := time.Now().Add(time.Hour)
	require.NoError(t, d.overrides.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "chat", Effect: models.OverrideDeny, ExpiresAt: &expired,
	}))
	require.NoError(t, d.overrides.Upsert(ctx, &models.ToolOverride{
		UserID: "u2", Tool: "chat", Effect: models.OverrideDeny, ExpiresAt: &live,
	}))

	records, overrides, err := d.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), records)
	assert.Equal(t, int64(1), overrides)

	remaining, err := d.records.CountByTimeRange(ctx, time.Now().Add(-48*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	left, err := d.overrides.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
