package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderguard/internal/clock"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  settingsdomain.Repository
	Cache *settingsdomain.Cache
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  settingsdomain.Repository
	cache *settingsdomain.Cache
}

func New(p Params) settingsdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("settings.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) Get(ctx context.Context, merchantID string) (settingsdomain.RiskSettings, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return settingsdomain.RiskSettings{}, settingsdomain.ErrInvalidMerchant
	}
	if cached, ok := s.cache.Get(merchantID); ok {
		return cached, nil
	}

	stored, err := s.repo.Find(ctx, s.db, merchantID)
	if err != nil {
		return settingsdomain.RiskSettings{}, err
	}
	settings := settingsdomain.Defaults(merchantID)
	if stored != nil {
		settings = *stored
	}
	s.cache.Put(settings)
	return settings, nil
}

func (s *Service) Update(ctx context.Context, merchantID string, req settingsdomain.UpdateRequest) (settingsdomain.RiskSettings, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return settingsdomain.RiskSettings{}, settingsdomain.ErrInvalidMerchant
	}

	stored, err := s.repo.Find(ctx, s.db, merchantID)
	if err != nil {
		return settingsdomain.RiskSettings{}, err
	}
	settings := settingsdomain.Defaults(merchantID)
	if stored != nil {
		settings = *stored
	}
	apply(&settings, req)
	settings.UpdatedAt = s.clock.Now()

	if err := s.repo.Upsert(ctx, s.db, &settings); err != nil {
		return settingsdomain.RiskSettings{}, err
	}
	s.cache.Invalidate(merchantID)

	s.log.Info("risk settings updated", zap.String("merchant_id", merchantID))
	return settings, nil
}

func apply(settings *settingsdomain.RiskSettings, req settingsdomain.UpdateRequest) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&settings.FlagHighRisk, req.FlagHighRisk)
	set(&settings.FlagMediumRisk, req.FlagMediumRisk)
	set(&settings.EmailHighRisk, req.EmailHighRisk)
	set(&settings.EmailMediumRisk, req.EmailMediumRisk)
	set(&settings.AutoCancelHighRisk, req.AutoCancelHighRisk)
	set(&settings.AutoCancelUnverified, req.AutoCancelUnverified)
	set(&settings.AutoApproveVerified, req.AutoApproveVerified)
}
