package providers

import (
	"github.com/smallbiznis/orderguard/internal/providers/binlookup"
	"github.com/smallbiznis/orderguard/internal/providers/email"
	"github.com/smallbiznis/orderguard/internal/providers/geoip"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	fx.Provide(geoip.New),
	fx.Provide(binlookup.New),
)
