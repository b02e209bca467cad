package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRiskConfigHolder),
	fx.Provide(func(h *RiskConfigHolder) RiskConfigProvider { return h }),
)
