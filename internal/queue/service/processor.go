package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	triggerTimeout = 5 * time.Minute
	handlerTimeout = time.Minute
	recordTimeout  = 10 * time.Second
)

type ProcessorParams struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      queuedomain.Repository
	Handlers  queuedomain.Handlers
	Lease     queuedomain.Lease     `optional:"true"`
	Metrics   *metrics.QueueMetrics `optional:"true"`
}

// Processor drains one merchant's queue at a time.
type Processor struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     queuedomain.Repository
	handlers queuedomain.Handlers
	lease    queuedomain.Lease
	metrics  *metrics.QueueMetrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// retrigger runs after a batch that left backlog behind.
	retrigger func(merchantID string)
}

func NewProcessor(p ProcessorParams) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &Processor{
		db:       p.DB,
		log:      p.Log.Named("queue.processor"),
		clock:    p.Clock,
		repo:     p.Repo,
		handlers: p.Handlers,
		lease:    p.Lease,
		metrics:  p.Metrics,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	proc.retrigger = proc.Trigger

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(stopCtx context.Context) error {
				proc.cancel()
				done := make(chan struct{})
				go func() {
					proc.wg.Wait()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			},
		})
	}
	return proc
}

// Trigger drains merchantID in the background. Errors are logged only.
func (p *Processor) Trigger(merchantID string) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" || p.baseCtx.Err() != nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.baseCtx, triggerTimeout)
		defer cancel()
		if _, err := p.Process(ctx, merchantID); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("triggered drain failed", zap.String("merchant_id", merchantID), zap.Error(err))
		}
	}()
}

// Wait blocks until every triggered drain has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process runs one batch for merchantID. Handler failures are recorded on
// the item; only store failures are returned.
func (p *Processor) Process(ctx context.Context, merchantID string) (queuedomain.BatchResult, error) {
	merchantID = strings.TrimSpace(merchantID)
	result := queuedomain.BatchResult{MerchantID: merchantID}
	if merchantID == "" {
		return result, queuedomain.ErrInvalidMerchant
	}

	release := func() {}
	if p.lease != nil {
		rel, ok, err := p.lease.Acquire(ctx, merchantID)
		switch {
		case err != nil:
			p.log.Warn("processor lease unavailable, draining without it", zap.String("merchant_id", merchantID), zap.Error(err))
		case !ok:
			p.metrics.IncLeaseSkipped()
			p.log.Debug("merchant drain already running", zap.String("merchant_id", merchantID))
			return result, nil
		default:
			release = rel
		}
	}

	err := p.drain(ctx, merchantID, &result)
	// The follow-up drain must be able to take the lease.
	release()
	if err != nil {
		return result, err
	}
	if result.Retriggers {
		p.retrigger(merchantID)
	}
	return result, nil
}

func (p *Processor) drain(ctx context.Context, merchantID string, result *queuedomain.BatchResult) error {
	runID := ulid.Make().String()
	log := p.log.With(zap.String("merchant_id", merchantID), zap.String("run_id", runID))
	start := p.clock.Now()

	items, err := p.repo.ListEligible(ctx, p.db, merchantID, start, queuedomain.BatchSize)
	if err != nil {
		return fmt.Errorf("list eligible items: %w", err)
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processItem(ctx, log, &items[i], result); err != nil {
			return err
		}
	}
	p.metrics.ObserveBatch(len(items), p.clock.Now().Sub(start))

	backlog, err := p.repo.CountEligible(ctx, p.db, merchantID, p.clock.Now())
	if err != nil {
		return fmt.Errorf("count backlog: %w", err)
	}
	result.Backlog = backlog
	if backlog > 0 && result.Claimed > 0 {
		result.Retriggers = true
		p.metrics.IncRetrigger()
		log.Debug("backlog remains, retriggering", zap.Int64("backlog", backlog))
	}

	if len(items) > 0 {
		log.Info("batch processed",
			zap.Int("claimed", result.Claimed),
			zap.Int("completed", result.Completed),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return nil
}

func (p *Processor) processItem(ctx context.Context, log *zap.Logger, item *queuedomain.QueueItem, result *queuedomain.BatchResult) error {
	claimed, err := p.repo.Claim(ctx, p.db, item.ID, item.Attempts, p.clock.Now())
	if err != nil {
		return fmt.Errorf("claim queue item %s: %w", item.ID, err)
	}
	if !claimed {
		result.Skipped++
		p.metrics.IncItemProcessed(string(item.Type), metrics.ItemOutcomeSkipped)
		return nil
	}
	result.Claimed++
	attempt := item.Attempts + 1

	itemLog := log.With(
		zap.String("queue_item_id", item.ID.String()),
		zap.String("type", string(item.Type)),
		zap.Int("attempt", attempt),
	)

	handlerErr := p.run(ctx, item)
	now := p.clock.Now()

	// The outcome is recorded even when the drain was cancelled mid-handler.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if handlerErr == nil {
		if err := p.repo.Complete(ctx, p.db, item.ID, now); err != nil {
			return fmt.Errorf("complete queue item %s: %w", item.ID, err)
		}
		result.Completed++
		p.metrics.IncItemProcessed(string(item.Type), metrics.ItemOutcomeCompleted)
		return nil
	}

	permanent := errors.Is(handlerErr, queuedomain.ErrUnknownType) || errors.Is(handlerErr, queuedomain.ErrInvalidPayload)
	if attempt < item.MaxAttempts && !permanent {
		next := now.Add(queuedomain.Backoff(attempt))
		if err := p.repo.Retry(ctx, p.db, item.ID, next, handlerErr.Error(), now); err != nil {
			return fmt.Errorf("retry queue item %s: %w", item.ID, err)
		}
		result.Retried++
		p.metrics.IncItemProcessed(string(item.Type), metrics.ItemOutcomeRetried)
		itemLog.Warn("queue item failed, retry scheduled", zap.Time("next_attempt_after", next), zap.Error(handlerErr))
		return nil
	}

	if err := p.repo.Fail(ctx, p.db, item.ID, handlerErr.Error(), now); err != nil {
		return fmt.Errorf("fail queue item %s: %w", item.ID, err)
	}
	result.Failed++
	p.metrics.IncItemProcessed(string(item.Type), metrics.ItemOutcomeFailed)
	itemLog.Error("queue item failed permanently", zap.Error(handlerErr))
	return nil
}

// run decodes and dispatches one item, converting panics into failures.
func (p *Processor) run(ctx context.Context, item *queuedomain.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	job, err := queuedomain.DecodeJob(item.Type, item.Payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	return queuedomain.Dispatch(ctx, p.handlers, item.MerchantID, job)
}
