package repository

import (
	"context"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ToolOverrideRepository struct {
	db *storage.Database
}

func NewToolOverrideRepository(db *storage.Database) *ToolOverrideRepository {
	return &ToolOverrideRepository{db: db}
}

// Upsert creates the override or replaces the existing row for the
// same user and tool
func (r *ToolOverrideRepository) Upsert(ctx context.Context, override *models.ToolOverride) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "tool"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"effect", "per_hour", "per_day", "expires_at", "created_by", "updated_at",
			}),
		}).
		Create(override).Error
}

// Retrieves overrides that still apply for the user, expired rows are
// filtered out
func (r *ToolOverrideRepository) FindActiveByUser(ctx context.Context, userID string) ([]models.ToolOverride, error) {
	var overrides []models.ToolOverride
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, time.Now()).
		Find(&overrides).Error

	return overrides, err
}

// Retrieves all overrides for the user including expired ones, for the
// admin view
func (r *ToolOverrideRepository) ListByUser(ctx context.Context, userID string) ([]models.ToolOverride, error) {
	var overrides []models.ToolOverride
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("tool ASC").
		Find(&overrides).Error

	return overrides, err
}

func (r *ToolOverrideRepository) FindByUserAndTool(ctx context.Context, userID, tool string) (*models.ToolOverride, error) {
	var override models.ToolOverride
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND tool = ?", userID, tool).
		First(&override).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &override, err
}

func (r *ToolOverrideRepository) Delete(ctx context.Context, userID, tool string) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND tool = ?", userID, tool).
		Delete(&models.ToolOverride{})

	return result.RowsAffected, result.Error
}

// Deletes overrides whose expiry has passed
func (r *ToolOverrideRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Delete(&models.ToolOverride{})

	return result.RowsAffected, result.Error
}
