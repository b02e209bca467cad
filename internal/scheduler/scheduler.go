package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/clock"
	obsmetrics "github.com/smallbiznis/orderguard/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobQueueSweep     = "queue_sweep"
	JobRecoverStale   = "recover_stale"
	JobPruneCompleted = "prune_completed"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Backlog is the queue surface the scheduler maintains.
type Backlog interface {
	MerchantsWithBacklog(ctx context.Context) ([]string, error)
	PruneCompleted(ctx context.Context, retention time.Duration) (int64, error)
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Drainer processes one merchant batch.
type Drainer interface {
	Process(ctx context.Context, merchantID string) (queuedomain.BatchResult, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Queue     Backlog
	Processor Drainer
	Settings  *settingsdomain.Cache    `optional:"true"`
	Metrics   *obsmetrics.QueueMetrics `optional:"true"`
	Config    Config                   `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	queue     Backlog
	processor Drainer
	settings  *settingsdomain.Cache
	metrics   *obsmetrics.QueueMetrics
}

// SweepResult aggregates one fan-out over every merchant with backlog.
type SweepResult struct {
	Merchants int `json:"merchants"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (r *SweepResult) add(b queuedomain.BatchResult) {
	r.Claimed += b.Claimed
	r.Completed += b.Completed
	r.Retried += b.Retried
	r.Failed += b.Failed
	r.Skipped += b.Skipped
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Queue == nil || p.Processor == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		queue:     p.Queue,
		processor: p.Processor,
		settings:  p.Settings,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errors.Load() == 0 {
			run.incError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next tick resumes the work.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRecoverStale, s.RecoverStaleJob},
		{JobQueueSweep, func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		}},
		{JobPruneCompleted, s.PruneCompletedJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// Sweep drains one batch for every merchant with eligible work, at most
// SweepConcurrency merchants at a time. A failing merchant does not stop
// the others.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, run, owner := s.ensureJobRun(ctx, JobQueueSweep)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var result SweepResult
	merchants, err := s.queue.MerchantsWithBacklog(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sweep.failed", JobQueueSweep, "", err)
		return result, err
	}
	result.Merchants = len(merchants)
	if len(merchants) == 0 {
		return result, nil
	}

	// Settings edited out of band are picked up once per sweep.
	if s.settings != nil {
		s.settings.Reset()
	}

	var (
		mu     sync.Mutex
		jobErr error
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.SweepConcurrency)

	for _, merchantID := range merchants {
		merchantID := merchantID
		g.Go(func() error {
			batch, err := s.processor.Process(s.withLogContext(ctx, merchantID), merchantID)
			run.addMerchant()
			mu.Lock()
			defer mu.Unlock()
			result.add(batch)
			if err != nil {
				jobErr = errors.Join(jobErr, fmt.Errorf("merchant %s: %w", merchantID, err))
				s.logSchedulerError(ctx, run, "scheduler.merchant.process.failed", JobQueueSweep, merchantID, err)
				return nil
			}
			run.addProcessed(batch.Claimed)
			return nil
		})
	}
	_ = g.Wait()

	return result, jobErr
}
