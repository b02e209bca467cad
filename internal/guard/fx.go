package guard

import (
	"github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/guard/repository"
	"github.com/smallbiznis/orderguard/internal/guard/service"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	"github.com/smallbiznis/orderguard/internal/stats"
	"go.uber.org/fx"
)

var Module = fx.Module("guard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) riskdomain.FlaggedAccounts { return s },
		func(s *stats.Service) domain.Counters { return s },
	),
)
