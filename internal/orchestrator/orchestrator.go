package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"github.com/smallbiznis/orderguard/internal/providers/email"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/verification"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmailCooldown = errors.New("verification_email_cooldown")
	ErrNoContact     = errors.New("order_has_no_contact")
)

// Holds receives the on-hold counter updates.
type Holds interface {
	AddOnHold(ctx context.Context, merchantID string) error
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    guarddomain.Repository
	Guard   guarddomain.Service
	Tags    *TagSyncer
	Email   email.Provider
	Issuer  *verification.Issuer
	Holds   Holds
	Risk    config.RiskConfigProvider
	Metrics *metrics.Metrics `optional:"true"`
}

// Orchestrator runs the side effects that follow a guard decision. Each
// action fails on its own; failures are logged and counted, never returned
// to the caller that flagged the order.
type Orchestrator struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    guarddomain.Repository
	guard   guarddomain.Service
	tags    *TagSyncer
	email   email.Provider
	issuer  *verification.Issuer
	holds   Holds
	risk    config.RiskConfigProvider
	metrics *metrics.Metrics
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		db:      p.DB,
		log:     p.Log.Named("orchestrator"),
		clock:   p.Clock,
		repo:    p.Repo,
		guard:   p.Guard,
		tags:    p.Tags,
		email:   p.Email,
		issuer:  p.Issuer,
		holds:   p.Holds,
		risk:    p.Risk,
		metrics: p.Metrics,
	}
}

// OnFlagged applies tags, auto-cancel, the verification email and the hold
// counter to a newly flagged order.
func (o *Orchestrator) OnFlagged(ctx context.Context, order *guarddomain.Order, policy settingsdomain.RiskSettings) {
	log := o.log.With(zap.String("merchant_id", order.MerchantID), zap.Int64("order_id", order.OrderID))

	if err := o.tags.SyncTags(ctx, order); err != nil {
		o.failed(ctx, log, "tags", err)
	}

	cancelled := false
	if policy.AutoCancelHighRisk && order.RiskLevel == string(riskdomain.LevelHigh) {
		res, err := o.guard.Cancel(ctx, guarddomain.ActionRequest{
			MerchantID: order.MerchantID,
			OrderID:    order.OrderID,
			Reason:     "auto-cancelled high risk order",
		})
		if err != nil {
			o.failed(ctx, log, "auto_cancel", err)
		} else {
			cancelled = true
			*order = *res.Order
		}
	}

	if !cancelled && policy.ShouldEmail(order.RiskLevel) {
		if err := o.sendVerification(ctx, order); err != nil {
			if errors.Is(err, ErrEmailCooldown) || errors.Is(err, ErrNoContact) {
				log.Info("verification email skipped", zap.Error(err))
			} else {
				o.failed(ctx, log, "email", err)
			}
		}
	}

	claimed, err := o.repo.ClaimHoldCount(ctx, o.db, order.MerchantID, order.OrderID)
	if err != nil {
		o.failed(ctx, log, "stats", err)
		return
	}
	if claimed {
		if err := o.holds.AddOnHold(ctx, order.MerchantID); err != nil {
			o.failed(ctx, log, "stats", err)
		}
	}
}

// SendVerificationEmail resends the verification email of a pending order
// once the resend cooldown has elapsed.
func (o *Orchestrator) SendVerificationEmail(ctx context.Context, merchantID string, orderID int64) (*guarddomain.Order, error) {
	order, err := o.guard.Get(ctx, merchantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != guarddomain.StatusPending {
		return nil, guarddomain.ErrOrderClosed
	}
	if err := o.sendVerification(ctx, order); err != nil {
		return nil, err
	}
	return o.guard.Get(ctx, merchantID, orderID)
}

// RecordCancellation projects a cancellation made on the platform onto the
// guard order, if one exists.
func (o *Orchestrator) RecordCancellation(ctx context.Context, merchantID string, order platformdomain.Order) error {
	updated, err := o.guard.MarkCancelledExternally(ctx, merchantID, order)
	if err != nil {
		return err
	}
	if updated == nil {
		o.log.Debug("cancellation of unflagged order ignored", zap.String("merchant_id", merchantID), zap.Int64("order_id", order.ID))
	}
	return nil
}

func (o *Orchestrator) sendVerification(ctx context.Context, order *guarddomain.Order) error {
	contact := strings.TrimSpace(order.CustomerEmail)
	if contact == "" {
		return ErrNoContact
	}

	cooldown := o.risk.Get().EmailResendCooldown
	now := o.clock.Now().Truncate(time.Microsecond)
	claimed, err := o.repo.ClaimEmailSlot(ctx, o.db, order.MerchantID, order.OrderID, now.Add(-cooldown), cooldown, now)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrEmailCooldown
	}

	err = o.deliver(ctx, order, contact)
	if err == nil {
		o.log.Info("verification email sent",
			zap.String("merchant_id", order.MerchantID),
			zap.Int64("order_id", order.OrderID),
			zap.Int("tier", order.TierValue()),
		)
		return nil
	}

	if releaseErr := o.repo.ReleaseEmailSlot(ctx, o.db, order.MerchantID, order.OrderID, now, order.EmailLastSentAt); releaseErr != nil {
		o.log.Warn("email slot not released", zap.Int64("order_id", order.OrderID), zap.Error(releaseErr))
	}
	return err
}

func (o *Orchestrator) deliver(ctx context.Context, order *guarddomain.Order, contact string) error {
	token, err := o.issuer.Issue(verification.Claims{
		MerchantID: order.MerchantID,
		OrderID:    order.OrderID,
		Contact:    contact,
	})
	if err != nil {
		return err
	}

	customer := order.CustomerName
	if customer == "" {
		customer = "there"
	}
	return o.email.SendTemplate(ctx, []string{contact}, email.TemplateVerifyOrder, map[string]interface{}{
		"customer_name": customer,
		"order_name":    order.OrderName,
		"merchant_name": order.MerchantID,
		"tier":          order.TierValue(),
		"verify_url":    o.issuer.Link(token),
	})
}

func (o *Orchestrator) failed(ctx context.Context, log *zap.Logger, action string, err error) {
	o.metrics.RecordSideEffectFailure(ctx, action)
	log.Warn("side effect failed", zap.String("action", action), zap.Error(err))
}
