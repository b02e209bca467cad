package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"github.com/smallbiznis/orderguard/internal/providers/binlookup"
	"github.com/smallbiznis/orderguard/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     guarddomain.Repository
	Platform platformdomain.Client
	BINs     binlookup.Resolver
	Risk     config.RiskConfigProvider
	Tags     guarddomain.TagSyncer
	Counters guarddomain.Counters
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     guarddomain.Repository
	platform platformdomain.Client
	bins     binlookup.Resolver
	risk     config.RiskConfigProvider
	tags     guarddomain.TagSyncer
	counters guarddomain.Counters
	metrics  *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("guard.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		platform: p.Platform,
		bins:     p.BINs,
		risk:     p.Risk,
		tags:     p.Tags,
		counters: p.Counters,
		metrics:  p.Metrics,
	}
}

// HasFlaggedAccount backs the risk engine's history rule.
func (s *Service) HasFlaggedAccount(ctx context.Context, merchantID, account string, excludeOrderID int64) (bool, error) {
	return s.repo.HasFlaggedAccount(ctx, s.db, merchantID, account, excludeOrderID)
}

// Flag creates the guard projection on the first flag decision. A redelivered
// decision returns the existing order with created=false.
func (s *Service) Flag(ctx context.Context, req guarddomain.FlagRequest) (*guarddomain.Order, bool, error) {
	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" || req.Order.ID == 0 {
		return nil, false, guarddomain.ErrInvalidRequest
	}

	reasons, err := json.Marshal(req.Risk.Reasons)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	order := &guarddomain.Order{
		MerchantID:            merchantID,
		OrderID:               req.Order.ID,
		OrderName:             req.Order.Name,
		CustomerEmail:         req.Order.ContactEmail(),
		CustomerName:          customerName(req.Order),
		Currency:              req.Order.Currency,
		TotalPrice:            req.Order.TotalPrice,
		NormalizedValue:       req.NormalizedValue,
		BillingZip:            billingZip(req.Order),
		AccountNumber:         req.Risk.AccountNumber,
		Status:                guarddomain.StatusPending,
		RiskScore:             req.Risk.Score,
		RiskReasons:           datatypes.JSON(reasons),
		RiskLevel:             string(req.Risk.Risk),
		RiskStatusTag:         guarddomain.RiskTag(string(req.Risk.Risk)),
		VerificationStatusTag: guarddomain.VerificationTag(guarddomain.StatusPending, ""),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.Tier != guarddomain.TierNone {
		tier := req.Tier
		order.Tier = &tier
	}

	created, err := s.repo.Create(ctx, s.db, order)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.repo.Get(ctx, s.db, merchantID, req.Order.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.log.Info("order flagged",
		zap.String("merchant_id", merchantID),
		zap.Int64("order_id", order.OrderID),
		zap.String("risk", order.RiskLevel),
		zap.Int("score", order.RiskScore),
		zap.Int("tier", order.TierValue()),
	)
	return order, true, nil
}

func (s *Service) Get(ctx context.Context, merchantID string, orderID int64) (*guarddomain.Order, error) {
	order, err := s.repo.Get(ctx, s.db, strings.TrimSpace(merchantID), orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, guarddomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, filter guarddomain.ListFilter) (*guarddomain.ListResult, error) {
	filter.MerchantID = strings.TrimSpace(filter.MerchantID)
	if filter.MerchantID == "" {
		return nil, guarddomain.ErrInvalidRequest
	}

	var after *pagination.Cursor
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, guarddomain.ErrInvalidRequest
		}
		after = cursor
	}

	limit := filter.Pagination.Limit()
	rows, err := s.repo.List(ctx, s.db, filter, after, limit)
	if err != nil {
		return nil, err
	}
	page, info, err := pagination.BuildCursorPageInfo(rows, limit, func(o guarddomain.Order) pagination.Cursor {
		return pagination.Cursor{ID: o.OrderID, CreatedAt: o.CreatedAt}
	})
	if err != nil {
		return nil, err
	}
	return &guarddomain.ListResult{Orders: page, PageInfo: info}, nil
}

// MarkPaid applies the paid overlay; terminal or already-paid orders are
// returned unchanged.
func (s *Service) MarkPaid(ctx context.Context, merchantID string, orderID int64) (*guarddomain.Order, error) {
	merchantID = strings.TrimSpace(merchantID)
	order, err := s.repo.Get(ctx, s.db, merchantID, orderID)
	if err != nil || order == nil {
		return order, err
	}

	ok, err := s.repo.MarkPaid(ctx, s.db, merchantID, orderID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return order, nil
	}
	s.log.Info("order marked paid", zap.String("merchant_id", merchantID), zap.Int64("order_id", orderID))
	return s.repo.Get(ctx, s.db, merchantID, orderID)
}

// MarkCancelledExternally records a cancellation made on the platform.
// Unflagged orders are ignored.
func (s *Service) MarkCancelledExternally(ctx context.Context, merchantID string, platformOrder platformdomain.Order) (*guarddomain.Order, error) {
	merchantID = strings.TrimSpace(merchantID)
	order, err := s.repo.Get(ctx, s.db, merchantID, platformOrder.ID)
	if err != nil || order == nil {
		return order, err
	}

	remark := "cancelled on platform"
	if reason := strings.TrimSpace(platformOrder.CancelReason); reason != "" {
		remark = fmt.Sprintf("cancelled on platform: %s", reason)
	}
	ok, err := s.repo.MarkCancelled(ctx, s.db, merchantID, order.OrderID, remark, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return order, nil
	}

	updated, err := s.repo.Get(ctx, s.db, merchantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	s.afterCancel(ctx, updated)
	return updated, nil
}

func (s *Service) syncTags(ctx context.Context, order *guarddomain.Order) {
	if s.tags == nil || order == nil {
		return
	}
	if err := s.tags.SyncTags(ctx, order); err != nil {
		s.metrics.RecordSideEffectFailure(ctx, "tags")
		s.log.Warn("tag sync failed",
			zap.String("merchant_id", order.MerchantID),
			zap.Int64("order_id", order.OrderID),
			zap.Error(err),
		)
	}
}

func upstream(err error) error {
	if errors.Is(err, platformdomain.ErrOrderNotFound) {
		return guarddomain.ErrOrderNotFound
	}
	return fmt.Errorf("%w: %v", guarddomain.ErrUpstream, err)
}

func customerName(o platformdomain.Order) string {
	if o.Customer == nil {
		return ""
	}
	return strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
}

func billingZip(o platformdomain.Order) string {
	if o.BillingAddress == nil {
		return ""
	}
	return o.BillingAddress.Zip
}
