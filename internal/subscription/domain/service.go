package domain

import (
	"context"
	"errors"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidMerchant     = errors.New("invalid_merchant")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrNotFound            = errors.New("subscription_not_found")
)

type Repository interface {
	// Upsert stores sub unless a newer platform update is already stored.
	Upsert(ctx context.Context, db *gorm.DB, sub *MerchantSubscription) (bool, error)
	Find(ctx context.Context, db *gorm.DB, merchantID string) (*MerchantSubscription, error)
}

type Service interface {
	Record(ctx context.Context, merchantID string, sub platformdomain.AppSubscription) (bool, error)
	Get(ctx context.Context, merchantID string) (*MerchantSubscription, error)
}
