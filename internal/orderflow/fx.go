package orderflow

import (
	"github.com/smallbiznis/orderguard/internal/currency"
	"github.com/smallbiznis/orderguard/internal/orchestrator"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("orderflow",
	fx.Provide(
		func(o *orchestrator.Orchestrator) SideEffects { return o },
		func(c *currency.Converter) Normalizer { return c },
	),
	fx.Provide(New),
	fx.Provide(func(h *Handlers) queuedomain.Handlers { return h }),
)
