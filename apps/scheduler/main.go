package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/smallbiznis/orderguard/internal/currency"
	"github.com/smallbiznis/orderguard/internal/guard"
	"github.com/smallbiznis/orderguard/internal/migration"
	"github.com/smallbiznis/orderguard/internal/observability"
	"github.com/smallbiznis/orderguard/internal/orchestrator"
	"github.com/smallbiznis/orderguard/internal/orderflow"
	"github.com/smallbiznis/orderguard/internal/platform"
	"github.com/smallbiznis/orderguard/internal/providers"
	"github.com/smallbiznis/orderguard/internal/queue"
	"github.com/smallbiznis/orderguard/internal/ratelimit"
	"github.com/smallbiznis/orderguard/internal/risk"
	"github.com/smallbiznis/orderguard/internal/scheduler"
	"github.com/smallbiznis/orderguard/internal/settings"
	"github.com/smallbiznis/orderguard/internal/stats"
	"github.com/smallbiznis/orderguard/internal/subscription"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Domain services required to drain queues
		platform.Module,
		providers.Module,
		currency.Module,
		queue.Module,
		settings.Module,
		stats.Module,
		risk.Module,
		guard.Module,
		verification.Module,
		orchestrator.Module,
		subscription.Module,
		orderflow.Module,

		// No server module!
		scheduler.Module,
		scheduler.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
