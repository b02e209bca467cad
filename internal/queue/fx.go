package queue

import (
	"github.com/smallbiznis/orderguard/internal/queue/domain"
	"github.com/smallbiznis/orderguard/internal/queue/repository"
	"github.com/smallbiznis/orderguard/internal/queue/service"
	"github.com/smallbiznis/orderguard/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewProcessor),
	fx.Provide(provideLease),
)

func provideLease(lease *ratelimit.ProcessorLease) domain.Lease {
	return lease
}
