package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	Name      string    `gorm:"not null" json:"name"`

	// Service is the calling service's name, stamped on usage records
	Service   string `gorm:"index;not null" json:"service"`
	CreatedBy string `json:"created_by"`

	// PerMinute overrides the global per-token request limit, 0 uses
	// the configured default
	PerMinute int `gorm:"default:0" json:"per_minute"`

	IsActive   bool       `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (s *ServiceToken) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (ServiceToken) TableName() string {
	return "service_tokens"
}
