// Package orderflow turns queued platform events into guard decisions.
package orderflow

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/orderguard/internal/config"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	"github.com/smallbiznis/orderguard/internal/orchestrator"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/orderguard/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SideEffects runs the actions that follow a guard decision.
type SideEffects interface {
	OnFlagged(ctx context.Context, order *guarddomain.Order, policy settingsdomain.RiskSettings)
	RecordCancellation(ctx context.Context, merchantID string, order platformdomain.Order) error
}

// Normalizer converts an amount into the base currency.
type Normalizer interface {
	ToBase(ctx context.Context, amount float64, currency string) (float64, error)
}

type Params struct {
	fx.In

	Log           *zap.Logger
	Platform      platformdomain.Client
	Engine        riskdomain.Engine
	Settings      settingsdomain.Service
	Guard         guarddomain.Service
	Effects       SideEffects
	Currency      Normalizer
	Subscriptions subscriptiondomain.Service
	Risk          config.RiskConfigProvider
	Metrics       *metrics.Metrics `optional:"true"`
}

type Handlers struct {
	log           *zap.Logger
	platform      platformdomain.Client
	engine        riskdomain.Engine
	settings      settingsdomain.Service
	guard         guarddomain.Service
	effects       SideEffects
	currency      Normalizer
	subscriptions subscriptiondomain.Service
	risk          config.RiskConfigProvider
	metrics       *metrics.Metrics
}

func New(p Params) *Handlers {
	return &Handlers{
		log:           p.Log.Named("orderflow"),
		platform:      p.Platform,
		engine:        p.Engine,
		settings:      p.Settings,
		guard:         p.Guard,
		effects:       p.Effects,
		currency:      p.Currency,
		subscriptions: p.Subscriptions,
		risk:          p.Risk,
		metrics:       p.Metrics,
	}
}

var _ queuedomain.Handlers = (*Handlers)(nil)

// HandleOrderCreate scores a new order and, when the merchant's policy holds
// its risk level, flags it and runs the follow-up side effects.
func (h *Handlers) HandleOrderCreate(ctx context.Context, merchantID string, job queuedomain.OrderCreateJob) error {
	order := job.Order
	log := h.log.With(zap.String("merchant_id", merchantID), zap.Int64("order_id", order.ID))

	if order.CancelledAt != nil {
		log.Info("order already cancelled, not scored")
		return nil
	}

	assessment, err := h.platform.GetRiskAssessment(ctx, merchantID, order.ID)
	if err != nil {
		log.Warn("risk assessment unavailable, scoring without it", zap.Error(err))
		assessment = nil
	}
	transactions, err := h.platform.ListTransactions(ctx, merchantID, order.ID)
	if err != nil {
		log.Warn("transactions unavailable, scoring without them", zap.Error(err))
		transactions = nil
	}

	result := h.engine.Score(ctx, riskdomain.Input{
		MerchantID:   merchantID,
		Order:        order,
		Assessment:   assessment,
		Transactions: transactions,
	})

	policy, err := h.settings.Get(ctx, merchantID)
	if err != nil {
		return err
	}
	flagged := policy.ShouldFlag(string(result.Risk))
	h.metrics.RecordRiskDecision(ctx, string(result.Risk), flagged)
	log.Info("order scored",
		zap.Int("score", result.Score),
		zap.String("risk", string(result.Risk)),
		zap.Strings("reasons", result.Reasons),
		zap.Bool("flagged", flagged),
	)
	if !flagged {
		return nil
	}

	cfg := h.risk.Get()
	value, convErr := h.currency.ToBase(ctx, order.Total(), order.Currency)
	normalized := convErr == nil
	if !normalized {
		log.Warn("order value not normalized", zap.String("currency", order.Currency), zap.Error(convErr))
		value = 0
	}
	tier := orchestrator.AssignTier(result.Risk, value, normalized, cfg.Tier1MaxValue)

	guarded, created, err := h.guard.Flag(ctx, guarddomain.FlagRequest{
		MerchantID:      merchantID,
		Order:           order,
		Risk:            result,
		Tier:            tier,
		NormalizedValue: value,
	})
	if err != nil {
		return err
	}
	if !created && guarded.Status != guarddomain.StatusPending {
		log.Debug("order already progressed past flagging", zap.String("status", string(guarded.Status)))
		return nil
	}

	h.effects.OnFlagged(ctx, guarded, policy)
	return nil
}

func (h *Handlers) HandleOrderCancel(ctx context.Context, merchantID string, job queuedomain.OrderCancelJob) error {
	return h.effects.RecordCancellation(ctx, merchantID, job.Order)
}

func (h *Handlers) HandleOrderPaid(ctx context.Context, merchantID string, job queuedomain.OrderPaidJob) error {
	order, err := h.guard.MarkPaid(ctx, merchantID, job.Order.ID)
	if err != nil {
		return err
	}
	if order == nil {
		h.log.Debug("payment of unflagged order ignored", zap.String("merchant_id", merchantID), zap.Int64("order_id", job.Order.ID))
	}
	return nil
}

func (h *Handlers) HandleSubscriptionUpdate(ctx context.Context, merchantID string, job queuedomain.SubscriptionUpdateJob) error {
	_, err := h.subscriptions.Record(ctx, merchantID, job.Subscription)
	if errors.Is(err, subscriptiondomain.ErrInvalidSubscription) || errors.Is(err, subscriptiondomain.ErrInvalidMerchant) {
		h.log.Warn("subscription update dropped",
			zap.String("merchant_id", merchantID),
			zap.String("subscription_id", strings.TrimSpace(job.Subscription.ID)),
			zap.Error(err),
		)
		return nil
	}
	return err
}
