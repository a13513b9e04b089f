package repository

import (
	"context"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/storage"
	"gorm.io/gorm"
)

type AuthRepository struct {
	db *storage.Database
}

func NewUserRepository(db *storage.Database) *AuthRepository {
	return &AuthRepository{db: db}
}

// Inserts a new user into the database
func (r *AuthRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.DB.WithContext(ctx).Create(user).Error
}

// Retrieves user by email
func (r *AuthRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &user, err
}

// Retrieves user by id
func (r *AuthRepository) FindById(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &user, err
}

// Retrieves all users
func (r *AuthRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&users).Error

	return users, err
}

// Counts users, used by the startup admin bootstrap
func (r *AuthRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.User{}).
		Count(&count).Error

	return count, err
}
