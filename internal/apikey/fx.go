package apikey

import (
	"context"

	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/apikey/repository"
	"github.com/smallbiznis/orderguard/internal/apikey/service"
	"github.com/smallbiznis/orderguard/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// SeedModule stores OPERATOR_API_KEYS at startup. Register it after the
// migration module.
var SeedModule = fx.Module("apikey.seed",
	fx.Invoke(func(svc apikeydomain.Service, cfg config.Config) error {
		if len(cfg.OperatorAPIKeys) == 0 {
			return nil
		}
		_, err := svc.Seed(context.Background(), cfg.OperatorAPIKeys)
		return err
	}),
)
