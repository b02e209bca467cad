package stats

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderguard/internal/clock"
	statsdomain "github.com/smallbiznis/orderguard/internal/stats/domain"
	"github.com/smallbiznis/orderguard/internal/stats/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("stats.service",
	fx.Provide(repository.Provide),
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  statsdomain.Repository
}

// Service maintains the merchant dashboard counters.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  statsdomain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("stats.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AddOnHold(ctx context.Context, merchantID string) error {
	return s.repo.AddOnHold(ctx, s.db, strings.TrimSpace(merchantID), 1, s.clock.Now())
}

func (s *Service) AddPrevented(ctx context.Context, merchantID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	return s.repo.AddPrevented(ctx, s.db, strings.TrimSpace(merchantID), amount, s.clock.Now())
}

func (s *Service) Get(ctx context.Context, merchantID string) (statsdomain.RiskStats, error) {
	return s.repo.Get(ctx, s.db, strings.TrimSpace(merchantID))
}
