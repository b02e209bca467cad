package service

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"go.uber.org/zap"
)

// Capture captures payment on the platform then records the transition.
// Capturing a captured order is a no-op success.
func (s *Service) Capture(ctx context.Context, req guarddomain.ActionRequest) (*guarddomain.ActionResult, error) {
	order, err := s.loadForAction(ctx, req)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case guarddomain.StatusCaptured:
		return &guarddomain.ActionResult{Order: order, AlreadyApplied: true}, nil
	case guarddomain.StatusCancelled:
		return nil, guarddomain.ErrOrderClosed
	}

	amount := strings.TrimSpace(req.Amount)
	if amount == "" {
		amount = order.TotalPrice
	}
	txn, err := s.platform.Capture(ctx, order.MerchantID, order.OrderID, amount, order.Currency)
	if err != nil {
		return nil, upstream(err)
	}

	ok, err := s.repo.MarkCaptured(ctx, s.db, order.MerchantID, order.OrderID, actionRemark("payment captured", req), s.clock.Now())
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, s.db, order.MerchantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if current.Status == guarddomain.StatusCaptured {
			return &guarddomain.ActionResult{Order: current, Transaction: txn, AlreadyApplied: true}, nil
		}
		return nil, guarddomain.ErrOrderClosed
	}

	s.log.Info("payment captured",
		zap.String("merchant_id", current.MerchantID),
		zap.Int64("order_id", current.OrderID),
		zap.Bool("manual", req.Manual),
	)
	s.syncTags(ctx, current)
	s.applyTagRef(ctx, current, req.TagRef)
	return &guarddomain.ActionResult{Order: current, Transaction: txn}, nil
}

// Cancel cancels the order on the platform then records the transition.
// Cancelling a cancelled order is a no-op success.
func (s *Service) Cancel(ctx context.Context, req guarddomain.ActionRequest) (*guarddomain.ActionResult, error) {
	order, err := s.loadForAction(ctx, req)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case guarddomain.StatusCancelled:
		return &guarddomain.ActionResult{Order: order, AlreadyApplied: true}, nil
	case guarddomain.StatusCaptured:
		return nil, guarddomain.ErrOrderClosed
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "fraud"
	}
	txn, err := s.platform.Cancel(ctx, order.MerchantID, order.OrderID, reason)
	if err != nil {
		return nil, upstream(err)
	}

	ok, err := s.repo.MarkCancelled(ctx, s.db, order.MerchantID, order.OrderID, actionRemark("payment cancelled", req), s.clock.Now())
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, s.db, order.MerchantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if current.Status == guarddomain.StatusCancelled {
			return &guarddomain.ActionResult{Order: current, Transaction: txn, AlreadyApplied: true}, nil
		}
		return nil, guarddomain.ErrOrderClosed
	}

	s.log.Info("payment cancelled",
		zap.String("merchant_id", current.MerchantID),
		zap.Int64("order_id", current.OrderID),
		zap.Bool("manual", req.Manual),
	)
	s.afterCancel(ctx, current)
	s.applyTagRef(ctx, current, req.TagRef)
	return &guarddomain.ActionResult{Order: current, Transaction: txn}, nil
}

func (s *Service) loadForAction(ctx context.Context, req guarddomain.ActionRequest) (*guarddomain.Order, error) {
	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" || req.OrderID == 0 {
		return nil, guarddomain.ErrInvalidRequest
	}
	order, err := s.repo.Get(ctx, s.db, merchantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, guarddomain.ErrOrderNotFound
	}
	return order, nil
}

// afterCancel syncs tags and counts the prevented amount once per order.
func (s *Service) afterCancel(ctx context.Context, order *guarddomain.Order) {
	s.syncTags(ctx, order)

	claimed, err := s.repo.ClaimPreventedCount(ctx, s.db, order.MerchantID, order.OrderID)
	if err != nil || !claimed {
		if err != nil {
			s.log.Warn("prevented counter claim failed", zap.Int64("order_id", order.OrderID), zap.Error(err))
		}
		return
	}
	// Orders whose value could not be converted to the base currency are not
	// added to the prevented amount.
	if s.counters == nil || order.NormalizedValue <= 0 {
		return
	}
	if err := s.counters.AddPrevented(ctx, order.MerchantID, order.NormalizedValue); err != nil {
		s.metrics.RecordSideEffectFailure(ctx, "stats")
		s.log.Warn("prevented amount update failed",
			zap.String("merchant_id", order.MerchantID),
			zap.Int64("order_id", order.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) applyTagRef(ctx context.Context, order *guarddomain.Order, tagRef string) {
	tag := slug.Make(strings.TrimSpace(tagRef))
	if tag == "" {
		return
	}
	if err := s.platform.AddTags(ctx, order.MerchantID, order.OrderID, []string{tag}); err != nil {
		s.metrics.RecordSideEffectFailure(ctx, "tags")
		s.log.Warn("tag ref not applied", zap.String("tag", tag), zap.Error(err))
	}
}

func actionRemark(action string, req guarddomain.ActionRequest) string {
	mode := "automatically"
	if req.Manual {
		mode = "manually"
	}
	remark := action + " " + mode
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		remark += ": " + reason
	}
	return remark
}
