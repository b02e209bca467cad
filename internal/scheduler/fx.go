package scheduler

import (
	"context"

	queueservice "github.com/smallbiznis/orderguard/internal/queue/service"
	"go.uber.org/fx"
)

// Module provides the Scheduler without starting its loop; the HTTP sweep
// endpoint uses it directly.
var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(func(s *queueservice.Service) Backlog { return s }),
	fx.Provide(func(p *queueservice.Processor) Drainer { return p }),
	fx.Provide(New),
)

// LoopModule runs the scheduler loop for the lifetime of the app.
var LoopModule = fx.Module("scheduler.loop",
	fx.Invoke(StartLoop),
)

func StartLoop(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
