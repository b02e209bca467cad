package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderguard/internal/clock"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	subscriptiondomain "github.com/smallbiznis/orderguard/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record projects an app subscription update. Updates older than the stored
// one are ignored and reported as not applied.
func (s *Service) Record(ctx context.Context, merchantID string, sub platformdomain.AppSubscription) (bool, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return false, subscriptiondomain.ErrInvalidMerchant
	}
	subscriptionID := strings.TrimSpace(sub.ID)
	status := subscriptiondomain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(sub.Status)))
	if subscriptionID == "" || status == "" {
		return false, subscriptiondomain.ErrInvalidSubscription
	}

	now := s.clock.Now()
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	applied, err := s.repo.Upsert(ctx, s.db, &subscriptiondomain.MerchantSubscription{
		MerchantID:        merchantID,
		SubscriptionID:    subscriptionID,
		Name:              strings.TrimSpace(sub.Name),
		Status:            status,
		PlatformUpdatedAt: updatedAt.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Info("merchant subscription updated",
			zap.String("merchant_id", merchantID),
			zap.String("subscription_id", subscriptionID),
			zap.String("status", string(status)),
		)
	} else {
		s.log.Debug("stale subscription update ignored", zap.String("merchant_id", merchantID))
	}
	return applied, nil
}

func (s *Service) Get(ctx context.Context, merchantID string) (*subscriptiondomain.MerchantSubscription, error) {
	sub, err := s.repo.Find(ctx, s.db, strings.TrimSpace(merchantID))
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return sub, nil
}
