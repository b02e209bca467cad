package repository

import (
	"context"
	"errors"

	subscriptiondomain "github.com/smallbiznis/orderguard/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.MerchantSubscription) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "merchant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscription_id", "name", "status", "platform_updated_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("merchant_subscriptions.platform_updated_at <= excluded.platform_updated_at"),
		}},
	}).Create(sub)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, merchantID string) (*subscriptiondomain.MerchantSubscription, error) {
	var sub subscriptiondomain.MerchantSubscription
	err := db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
