package repository

import (
	"context"
	"errors"

	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, merchantID string) (*settingsdomain.RiskSettings, error) {
	var settings settingsdomain.RiskSettings
	err := db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, settings *settingsdomain.RiskSettings) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "merchant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"flag_high_risk",
			"flag_medium_risk",
			"email_high_risk",
			"email_medium_risk",
			"auto_cancel_high_risk",
			"auto_cancel_unverified",
			"auto_approve_verified",
			"updated_at",
		}),
	}).Create(settings).Error
}
