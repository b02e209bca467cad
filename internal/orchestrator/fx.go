package orchestrator

import (
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/stats"
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(NewTagSyncer),
	fx.Provide(func(t *TagSyncer) guarddomain.TagSyncer { return t }),
	fx.Provide(func(s *stats.Service) Holds { return s }),
	fx.Provide(New),
)
