package repository

import (
	"context"
	"errors"
	"time"

	statsdomain "github.com/smallbiznis/orderguard/internal/stats/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() statsdomain.Repository {
	return &repo{}
}

func (r *repo) AddOnHold(ctx context.Context, db *gorm.DB, merchantID string, delta int64, now time.Time) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "merchant_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"orders_on_hold_count": gorm.Expr("risk_stats.orders_on_hold_count + ?", delta),
			"updated_at":           now,
		}),
	}).Create(&statsdomain.RiskStats{
		MerchantID:        merchantID,
		OrdersOnHoldCount: delta,
		UpdatedAt:         now,
	}).Error
}

func (r *repo) AddPrevented(ctx context.Context, db *gorm.DB, merchantID string, amount float64, now time.Time) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "merchant_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"risk_prevented_amount": gorm.Expr("risk_stats.risk_prevented_amount + ?", amount),
			"updated_at":            now,
		}),
	}).Create(&statsdomain.RiskStats{
		MerchantID:          merchantID,
		RiskPreventedAmount: amount,
		UpdatedAt:           now,
	}).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, merchantID string) (statsdomain.RiskStats, error) {
	var stats statsdomain.RiskStats
	err := db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return statsdomain.RiskStats{MerchantID: merchantID}, nil
	}
	return stats, err
}
