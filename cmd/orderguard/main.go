package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/apikey"
	"github.com/smallbiznis/orderguard/internal/authorization"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/smallbiznis/orderguard/internal/currency"
	"github.com/smallbiznis/orderguard/internal/guard"
	"github.com/smallbiznis/orderguard/internal/idempotency"
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
	"github.com/smallbiznis/orderguard/internal/server"
	"github.com/smallbiznis/orderguard/internal/settings"
	"github.com/smallbiznis/orderguard/internal/stats"
	"github.com/smallbiznis/orderguard/internal/subscription"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/internal/webhook"
	"github.com/smallbiznis/orderguard/pkg/db"
	"go.uber.org/fx"
)

// orderguard serves webhooks, verification submissions and the operator API.
// Queue sweeps arrive over HTTP; apps/scheduler runs the in-process loop.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Outbound collaborators
		platform.Module,
		providers.Module,
		currency.Module,

		// Functional Domains
		idempotency.Module,
		queue.Module,
		settings.Module,
		stats.Module,
		risk.Module,
		guard.Module,
		verification.Module,
		orchestrator.Module,
		subscription.Module,
		orderflow.Module,
		webhook.Module,
		scheduler.Module,

		// Operator access
		apikey.Module,
		apikey.SeedModule,
		authorization.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
