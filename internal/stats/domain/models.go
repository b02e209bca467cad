package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// RiskStats are monotonic per-merchant counters.
type RiskStats struct {
	MerchantID          string    `gorm:"column:merchant_id;type:varchar(255);primaryKey" json:"merchant_id"`
	RiskPreventedAmount float64   `gorm:"column:risk_prevented_amount;not null;default:0" json:"risk_prevented_amount"`
	OrdersOnHoldCount   int64     `gorm:"column:orders_on_hold_count;not null;default:0" json:"orders_on_hold_count"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (RiskStats) TableName() string { return "risk_stats" }

type Repository interface {
	AddOnHold(ctx context.Context, db *gorm.DB, merchantID string, delta int64, now time.Time) error
	AddPrevented(ctx context.Context, db *gorm.DB, merchantID string, amount float64, now time.Time) error
	Get(ctx context.Context, db *gorm.DB, merchantID string) (RiskStats, error)
}
