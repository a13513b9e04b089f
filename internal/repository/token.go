package repository

import (
	"context"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceTokenRepository struct {
	db *storage.Database
}

func NewServiceTokenRepository(db *storage.Database) *ServiceTokenRepository {
	return &ServiceTokenRepository{db: db}
}

func (r *ServiceTokenRepository) Create(ctx context.Context, token *models.ServiceToken) error {
	return r.db.DB.WithContext(ctx).Create(token).Error
}

func (r *ServiceTokenRepository) FindByHash(ctx context.Context, hash string) (*models.ServiceToken, error) {
	var token models.ServiceToken
	err := r.db.DB.WithContext(ctx).
		Where("token_hash = ? AND is_active = ?", hash, true).
		First(&token).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &token, err
}

func (r *ServiceTokenRepository) FindByID(ctx context.Context, id string) (*models.ServiceToken, error) {
	var token models.ServiceToken
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&token).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &token, err
}

func (r *ServiceTokenRepository) List(ctx context.Context) ([]models.ServiceToken, error) {
	var tokens []models.ServiceToken
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&tokens).Error

	return tokens, err
}

func (r *ServiceTokenRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ServiceToken{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ServiceTokenRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ServiceToken{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

func (r *ServiceTokenRepository) Delete(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.ServiceToken{}).Error
}

func (r *ServiceTokenRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.ServiceToken{}).
		Where("is_active = ?", true).
		Count(&count).Error

	return count, err
}
