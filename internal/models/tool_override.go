package models

import (
	"time"
)

const (
	OverrideAllow = "allow"
	OverrideDeny  = "deny"
)

// ToolOverride is a per-user exception to the builtin permission rules.
// One row per (user, tool).
type ToolOverride struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"uniqueIndex:idx_override_user_tool;not null" json:"user_id"`
	Tool   string `gorm:"uniqueIndex:idx_override_user_tool;not null" json:"tool"`

	// Effect is allow or deny
	Effect string `gorm:"not null" json:"effect"`

	// PerHour and PerDay replace the definition's limits when set
	PerHour int `gorm:"default:0" json:"per_hour"`
	PerDay  int `gorm:"default:0" json:"per_day"`

	// ExpiresAt makes the override temporary, nil means permanent
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the override has lapsed at the given time
func (o *ToolOverride) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

func (ToolOverride) TableName() string {
	return "tool_overrides"
}
