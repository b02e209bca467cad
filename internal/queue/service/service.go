package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    queuedomain.Repository
	Metrics *metrics.QueueMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    queuedomain.Repository
	metrics *metrics.QueueMetrics
}

func New(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("queue.service"),
		clock:   p.Clock,
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Enqueue appends a pending item. Pass the admission transaction as tx so
// the ledger record and the item commit together.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, merchantID string, job queuedomain.Job) (*queuedomain.QueueItem, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, queuedomain.ErrInvalidMerchant
	}
	payload, err := queuedomain.EncodeJob(job)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	item := &queuedomain.QueueItem{
		ID:               s.genID.Generate(),
		MerchantID:       merchantID,
		Type:             job.Type(),
		Payload:          payload,
		Status:           queuedomain.StatusPending,
		Attempts:         0,
		MaxAttempts:      queuedomain.DefaultMaxAttempts,
		NextAttemptAfter: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, item); err != nil {
		return nil, err
	}

	s.metrics.IncItemEnqueued(string(item.Type))
	s.log.Debug("queue item enqueued",
		zap.String("merchant_id", merchantID),
		zap.String("queue_item_id", item.ID.String()),
		zap.String("type", string(item.Type)),
	)
	return item, nil
}

func (s *Service) MerchantsWithBacklog(ctx context.Context) ([]string, error) {
	return s.repo.MerchantsWithBacklog(ctx, s.db, s.clock.Now())
}

// PruneCompleted deletes completed items older than retention.
func (s *Service) PruneCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.repo.DeleteCompletedBefore(ctx, s.db, s.clock.Now().Add(-retention))
}

// RecoverStale releases items stuck in processing for longer than staleAfter.
func (s *Service) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := s.clock.Now()
	return s.repo.RecoverStale(ctx, s.db, now.Add(-staleAfter), now)
}
