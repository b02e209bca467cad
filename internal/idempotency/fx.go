package idempotency

import (
	"github.com/smallbiznis/orderguard/internal/idempotency/repository"
	"github.com/smallbiznis/orderguard/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
