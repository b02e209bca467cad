package settings

import (
	"github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/settings/repository"
	"github.com/smallbiznis/orderguard/internal/settings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.service",
	fx.Provide(domain.NewCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
