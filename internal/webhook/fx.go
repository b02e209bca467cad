package webhook

import (
	queueservice "github.com/smallbiznis/orderguard/internal/queue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(s *queueservice.Service) Enqueuer { return s },
		func(p *queueservice.Processor) Trigger { return p },
	),
	fx.Provide(NewService),
)
