package risk

import (
	"github.com/smallbiznis/orderguard/internal/risk/domain"
	"github.com/smallbiznis/orderguard/internal/risk/service"
	"go.uber.org/fx"
)

var Module = fx.Module("risk.engine",
	fx.Provide(service.New),
	fx.Provide(func(e *service.Engine) domain.Engine { return e }),
)
