package platform

import (
	"github.com/smallbiznis/orderguard/internal/platform/client"
	"go.uber.org/fx"
)

var Module = fx.Module("platform",
	fx.Provide(client.New),
)
