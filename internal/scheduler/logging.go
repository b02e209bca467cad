package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	obscontext "github.com/smallbiznis/orderguard/internal/observability/context"
	obslogger "github.com/smallbiznis/orderguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderguard/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun tracks one execution of a job. Counters are updated from sweep
// goroutines.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	processed atomic.Int64
	merchants atomic.Int64
	errors    atomic.Int64
}

type jobRunKey struct{}

func (r *jobRun) addProcessed(n int) {
	if r != nil && n > 0 {
		r.processed.Add(int64(n))
	}
}

func (r *jobRun) addMerchant() {
	if r != nil {
		r.merchants.Add(1)
	}
}

func (r *jobRun) incError() {
	if r != nil {
		r.errors.Add(1)
	}
}

// ensureJobRun reuses the run already in ctx so nested jobs report under
// the outer run id. owner is true for the caller that created it.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if existing, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return s.withLogContext(ctx, ""), run, true
}

func (s *Scheduler) withLogContext(ctx context.Context, merchantID string) context.Context {
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	if merchantID != "" {
		ctx = obscontext.WithMerchantID(ctx, merchantID)
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	errCount := run.errors.Load()
	level := zapcore.InfoLevel
	if errCount > 0 {
		level = zapcore.WarnLevel
	}
	ce := s.logger(ctx).Check(level, "scheduler.job.finish")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", run.processed.Load()),
		zap.Int64("error_count", errCount),
	}
	if merchants := run.merchants.Load(); merchants > 0 {
		fields = append(fields, zap.Int64("merchant_count", merchants))
	}
	ce.Write(fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, merchantID string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.incError()
	s.logger(s.withLogContext(ctx, merchantID)).Error(msg, append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
