package models

import (
	"time"
)

// Represents one evaluated permission check
type UsageRecord struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"index" json:"user_id"`
	Tool   string `gorm:"index" json:"tool"`
	Plan   string `json:"plan"`

	// Service is the caller that asked, from its service token
	Service string `json:"service,omitempty"`

	Allowed bool   `gorm:"index" json:"allowed"`
	Reason  string `json:"reason"`
	DryRun  bool   `json:"dry_run"`

	LatencyUs int64     `json:"latency_us"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
