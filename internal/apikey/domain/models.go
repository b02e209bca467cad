package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleScheduler = "scheduler"
	RoleDashboard = "dashboard"
)

// APIKey stores a hashed operator credential and the role it acts as.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	KeyID      string       `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex"`
	Name       string       `gorm:"column:name;type:varchar(255);not null"`
	Role       string       `gorm:"column:role;type:varchar(32);not null"`
	KeyHash    string       `gorm:"column:key_hash;type:varchar(64);not null;uniqueIndex"`
	IsActive   bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;not null"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Subject is the authorization subject of the key.
func (k *APIKey) Subject() string {
	return "api_key:" + k.KeyID
}

func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// ValidRole reports a role the authorization policy knows.
func ValidRole(role string) bool {
	return role == RoleScheduler || role == RoleDashboard
}
