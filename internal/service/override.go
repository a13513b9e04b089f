package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/permissions"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrInvalidEffect = errors.New("effect must be allow or deny")
	ErrExpiryInPast  = errors.New("expires_at must be in the future")
	ErrNegativeLimit = errors.New("limits cannot be negative")
)

// OverrideInput is the admin-supplied shape of an override
type OverrideInput struct {
	Tool      string     `json:"tool"`
	Effect    string     `json:"effect"`
	PerHour   int        `json:"per_hour"`
	PerDay    int        `json:"per_day"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type ToolOverrideService struct {
	repo     *repository.ToolOverrideRepository
	redis    *storage.RedisClient
	registry *permissions.Registry
	logger   *zap.Logger
}

func NewToolOverrideService(repo *repository.ToolOverrideRepository, redis *storage.RedisClient, registry *permissions.Registry, logger *zap.Logger) *ToolOverrideService {
	return &ToolOverrideService{
		repo:     repo,
		redis:    redis,
		registry: registry,
		logger:   logger,
	}
}

// Set creates or replaces the override for the user and tool
func (s *ToolOverrideService) Set(ctx context.Context, userID string, in OverrideInput, createdBy string) (*models.ToolOverride, error) {
	if in.Effect != models.OverrideAllow && in.Effect != models.OverrideDeny {
		return nil, ErrInvalidEffect
	}
	if in.PerHour < 0 || in.PerDay < 0 {
		return nil, ErrNegativeLimit
	}
	if in.ExpiresAt != nil && in.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiryInPast
	}

	// Overrides on unregistered tools are legal, they are how not yet
	// rolled out tools get unlocked for test users. Worth a note in
	// the logs in case it is a typo.
	if s.registry.DefinitionFor(in.Tool) == nil {
		s.logger.Info("override set for unregistered tool",
			zap.String("user_id", userID),
			zap.String("tool", in.Tool),
		)
	}

	override := &models.ToolOverride{
		UserID:    userID,
		Tool:      in.Tool,
		Effect:    in.Effect,
		PerHour:   in.PerHour,
		PerDay:    in.PerDay,
		ExpiresAt: in.ExpiresAt,
		CreatedBy: createdBy,
	}

	if err := s.repo.Upsert(ctx, override); err != nil {
		return nil, fmt.Errorf("failed to save override: %w", err)
	}

	s.invalidateCache(ctx, userID)
	return override, nil
}

// List returns all of the user's overrides, expired ones included
func (s *ToolOverrideService) List(ctx context.Context, userID string) ([]models.ToolOverride, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Delete removes the override, reporting whether one existed
func (s *ToolOverrideService) Delete(ctx context.Context, userID, tool string) (bool, error) {
	n, err := s.repo.Delete(ctx, userID, tool)
	if err != nil {
		return false, err
	}

	s.invalidateCache(ctx, userID)
	return n > 0, nil
}

func (s *ToolOverrideService) invalidateCache(ctx context.Context, userID string) {
	s.redis.Del(ctx, fmt.Sprintf("overrides:cache:%s", userID))
}
