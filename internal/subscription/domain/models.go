// Package domain holds the merchant's subscription to this app, projected
// from app_subscriptions/update events.
package domain

import "time"

// SubscriptionStatus mirrors the platform's app subscription status.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusFrozen    SubscriptionStatus = "FROZEN"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusDeclined  SubscriptionStatus = "DECLINED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// MerchantSubscription is the latest known subscription of a merchant.
type MerchantSubscription struct {
	MerchantID        string             `gorm:"column:merchant_id;type:varchar(255);primaryKey" json:"merchant_id"`
	SubscriptionID    string             `gorm:"column:subscription_id;type:varchar(255);not null" json:"subscription_id"`
	Name              string             `gorm:"column:name;type:varchar(255)" json:"name"`
	Status            SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PlatformUpdatedAt time.Time          `gorm:"column:platform_updated_at;not null" json:"platform_updated_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (MerchantSubscription) TableName() string { return "merchant_subscriptions" }

// IsActive reports whether the merchant currently pays for the app.
func (s *MerchantSubscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}
