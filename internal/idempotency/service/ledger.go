package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderguard/internal/clock"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  idempotencydomain.Repository
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  idempotencydomain.Repository
}

func New(p Params) idempotencydomain.Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("idempotency.ledger"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (l *Ledger) Admit(ctx context.Context, tx *gorm.DB, admission idempotencydomain.Admission) (idempotencydomain.Decision, error) {
	admission.MerchantID = strings.TrimSpace(admission.MerchantID)
	admission.Key = strings.TrimSpace(admission.Key)
	admission.EntityID = strings.TrimSpace(admission.EntityID)
	admission.Type = strings.TrimSpace(admission.Type)

	if admission.MerchantID == "" || admission.EntityID == "" || admission.Type == "" {
		return "", idempotencydomain.ErrInvalidAdmission
	}

	if admission.Key == "" {
		l.log.Warn("event without idempotency key, processing without dedupe",
			zap.String("merchant_id", admission.MerchantID),
			zap.String("entity_id", admission.EntityID),
			zap.String("type", admission.Type),
		)
		return idempotencydomain.DecisionUnkeyed, nil
	}

	db := tx
	if db == nil {
		db = l.db
	}

	created, err := l.repo.InsertIfAbsent(ctx, db, &idempotencydomain.ProcessedEvent{
		IdempotencyKey: admission.Key,
		EntityID:       admission.EntityID,
		Type:           admission.Type,
		MerchantID:     admission.MerchantID,
		ProcessedAt:    l.clock.Now(),
	})
	if err != nil {
		return "", err
	}
	if !created {
		l.log.Debug("duplicate event ignored",
			zap.String("merchant_id", admission.MerchantID),
			zap.String("entity_id", admission.EntityID),
			zap.String("type", admission.Type),
		)
		return idempotencydomain.DecisionDuplicate, nil
	}
	return idempotencydomain.DecisionAdmitted, nil
}
