package service

import (
	"context"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/permissions"
	"github.com/averix/toolgate/internal/ratelimit"
	"github.com/averix/toolgate/internal/repository"
	"go.uber.org/zap"
)

// UsageSummary aggregates check activity over a time range
type UsageSummary struct {
	From          time.Time                `json:"from"`
	To            time.Time                `json:"to"`
	Total         int64                    `json:"total"`
	Allowed       int64                    `json:"allowed"`
	Denied        int64                    `json:"denied"`
	DenialReasons []repository.ReasonCount `json:"denial_reasons"`
	TopTools      []repository.ToolCount   `json:"top_tools"`
	AvgLatencyUs  float64                  `json:"avg_latency_us"`
}

// ToolUsage reports one tool's window consumption for a user
type ToolUsage struct {
	Tool    string                  `json:"tool"`
	Windows []ratelimit.WindowUsage `json:"windows"`
}

type UsageService struct {
	records   *repository.UsageRecordRepository
	overrides *repository.ToolOverrideRepository
	registry  *permissions.Registry
	limiter   *ratelimit.UsageLimiter
	logger    *zap.Logger
	retention time.Duration
}

func NewUsageService(
	records *repository.UsageRecordRepository,
	overrides *repository.ToolOverrideRepository,
	registry *permissions.Registry,
	limiter *ratelimit.UsageLimiter,
	logger *zap.Logger,
	retentionDays int,
) *UsageService {
	return &UsageService{
		records:   records,
		overrides: overrides,
		registry:  registry,
		limiter:   limiter,
		logger:    logger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

func (s *UsageService) Summary(ctx context.Context, from, to time.Time) (*UsageSummary, error) {
	total, err := s.records.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	allowed, err := s.records.CountAllowed(ctx, from, to)
	if err != nil {
		return nil, err
	}

	reasons, err := s.records.CountByReason(ctx, from, to)
	if err != nil {
		return nil, err
	}

	topTools, err := s.records.TopTools(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	avgLatency, err := s.records.AverageLatency(ctx, from, to)
	if err != nil {
		return nil, err
	}

	return &UsageSummary{
		From:          from,
		To:            to,
		Total:         total,
		Allowed:       allowed,
		Denied:        total - allowed,
		DenialReasons: reasons,
		TopTools:      topTools,
		AvgLatencyUs:  avgLatency,
	}, nil
}

func (s *UsageService) Series(ctx context.Context, from, to time.Time) ([]repository.HourlyPoint, error) {
	return s.records.HourlySeries(ctx, from, to)
}

// UserUsage reports the window consumption for every capped tool the
// user could touch, override limits folded in.
func (s *UsageService) UserUsage(ctx context.Context, userID string) ([]ToolUsage, error) {
	overrides, err := s.overrides.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	overrideByTool := make(map[string]models.ToolOverride, len(overrides))
	for _, o := range overrides {
		overrideByTool[o.Tool] = o
	}

	var usages []ToolUsage
	seen := make(map[string]bool)

	for _, tool := range s.registry.Tools() {
		caps := s.capsFor(tool, overrideByTool)
		seen[tool] = true
		if caps.PerHour <= 0 && caps.PerDay <= 0 {
			continue
		}

		windows, err := s.limiter.Usage(ctx, userID, tool, caps)
		if err != nil {
			return nil, err
		}
		usages = append(usages, ToolUsage{Tool: tool, Windows: windows})
	}

	// Overridden tools outside the registry still carry caps
	for tool, o := range overrideByTool {
		if seen[tool] || (o.PerHour <= 0 && o.PerDay <= 0) {
			continue
		}

		caps := ratelimit.Caps{PerHour: o.PerHour, PerDay: o.PerDay}
		windows, err := s.limiter.Usage(ctx, userID, tool, caps)
		if err != nil {
			return nil, err
		}
		usages = append(usages, ToolUsage{Tool: tool, Windows: windows})
	}

	return usages, nil
}

func (s *UsageService) capsFor(tool string, overrides map[string]models.ToolOverride) ratelimit.Caps {
	var caps ratelimit.Caps

	if def := s.registry.DefinitionFor(tool); def != nil {
		caps.PerHour = def.PerHour
		caps.PerDay = def.PerDay
		caps.Algorithm = def.Algorithm
	}

	if o, ok := overrides[tool]; ok {
		if o.PerHour > 0 {
			caps.PerHour = o.PerHour
		}
		if o.PerDay > 0 {
			caps.PerDay = o.PerDay
		}
	}

	return caps
}

// UserRecords returns the user's recent check history
func (s *UsageService) UserRecords(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]models.UsageRecord, error) {
	return s.records.FindByUser(ctx, userID, from, to, limit, offset)
}

// Reset clears the user's usage counters. With an empty tool every
// known and overridden tool is cleared.
func (s *UsageService) Reset(ctx context.Context, userID, tool string) (int, error) {
	if tool != "" {
		return 1, s.limiter.Clear(ctx, userID, tool)
	}

	tools := s.registry.Tools()

	overrides, err := s.overrides.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t] = true
	}
	for _, o := range overrides {
		if !known[o.Tool] {
			tools = append(tools, o.Tool)
		}
	}

	for i, t := range tools {
		if err := s.limiter.Clear(ctx, userID, t); err != nil {
			return i, err
		}
	}

	return len(tools), nil
}

// Cleanup applies the retention policy, dropping old usage records and
// lapsed overrides
func (s *UsageService) Cleanup(ctx context.Context) (int64, int64, error) {
	records, err := s.records.DeleteOlderThan(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return 0, 0, err
	}

	overrides, err := s.overrides.DeleteExpired(ctx, time.Now())
	if err != nil {
		return records, 0, err
	}

	return records, overrides, nil
}

// RunCleanupLoop runs Cleanup on the interval until the context ends
func (s *UsageService) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			records, overrides, err := s.Cleanup(ctx)
			if err != nil {
				s.logger.Error("retention cleanup failed", zap.Error(err))
				continue
			}
			if records > 0 || overrides > 0 {
				s.logger.Info("retention cleanup done",
					zap.Int64("usage_records", records),
					zap.Int64("expired_overrides", overrides),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
