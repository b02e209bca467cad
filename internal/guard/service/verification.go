package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/providers/binlookup"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"go.uber.org/zap"
)

const mismatchRetries = 3

// SubmitVerification checks customer-supplied card facts against the order's
// transactions. Only a mismatch consumes an attempt.
func (s *Service) SubmitVerification(ctx context.Context, req guarddomain.VerificationRequest, policy settingsdomain.RiskSettings) (*guarddomain.VerificationResult, error) {
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.Last4 = digitsOnly(req.Last4)
	if req.MerchantID == "" || req.OrderID == 0 || len(req.Last4) != 4 {
		return nil, guarddomain.ErrInvalidRequest
	}

	order, err := s.repo.Get(ctx, s.db, req.MerchantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, guarddomain.ErrOrderNotFound
	}
	if !strings.EqualFold(strings.TrimSpace(order.CustomerEmail), strings.TrimSpace(req.Contact)) {
		return nil, guarddomain.ErrInvalidCredential
	}

	maxAttempts := s.risk.Get().MaxVerifyAttempts
	if order.Status == guarddomain.StatusVerified {
		return &guarddomain.VerificationResult{Order: order, AlreadyVerified: true}, nil
	}
	if err := submissionAllowed(order, maxAttempts); err != nil {
		if errors.Is(err, guarddomain.ErrAttemptsExhausted) {
			s.metrics.RecordVerification(ctx, "rejected_exhausted")
		}
		return nil, err
	}

	log := s.log.With(zap.String("merchant_id", req.MerchantID), zap.Int64("order_id", req.OrderID))

	matched, err := s.matches(ctx, order, req)
	if err != nil {
		return nil, err
	}
	if matched {
		return s.verified(ctx, log, order, policy)
	}
	return nil, s.mismatch(ctx, log, order, maxAttempts, policy)
}

func submissionAllowed(order *guarddomain.Order, maxAttempts int) error {
	switch order.Status {
	case guarddomain.StatusPending:
		if order.Attempts >= maxAttempts {
			return guarddomain.ErrAttemptsExhausted
		}
		return nil
	case guarddomain.StatusUnverified:
		return guarddomain.ErrAttemptsExhausted
	default:
		return guarddomain.ErrOrderClosed
	}
}

func (s *Service) matches(ctx context.Context, order *guarddomain.Order, req guarddomain.VerificationRequest) (bool, error) {
	transactions, err := s.platform.ListTransactions(ctx, order.MerchantID, order.OrderID)
	if err != nil {
		return false, upstream(err)
	}

	var bins []string
	for _, txn := range transactions {
		if txn.PaymentDetails.Last4() == req.Last4 {
			bins = append(bins, strings.TrimSpace(txn.PaymentDetails.CreditCardBIN))
		}
	}
	if len(bins) == 0 {
		return false, nil
	}

	if order.TierValue() == guarddomain.Tier1 {
		want := normalizeZip(order.BillingZip)
		return want != "" && normalizeZip(req.Zip) == want, nil
	}

	wantCountry := strings.ToUpper(strings.TrimSpace(req.BINCountry))
	if wantCountry == "" {
		return false, nil
	}
	var lookupErr error
	for _, bin := range bins {
		country, err := s.bins.CountryForBIN(ctx, bin)
		if err != nil {
			if !errors.Is(err, binlookup.ErrUnknownBIN) {
				lookupErr = err
			}
			continue
		}
		if strings.EqualFold(country, wantCountry) {
			return true, nil
		}
	}
	if lookupErr != nil {
		return false, upstream(lookupErr)
	}
	return false, nil
}

func (s *Service) verified(ctx context.Context, log *zap.Logger, order *guarddomain.Order, policy settingsdomain.RiskSettings) (*guarddomain.VerificationResult, error) {
	ok, err := s.repo.MarkVerified(ctx, s.db, order.MerchantID, order.OrderID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, s.db, order.MerchantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// a concurrent submission or action moved the order first
		if current.Status == guarddomain.StatusVerified {
			return &guarddomain.VerificationResult{Order: current, AlreadyVerified: true}, nil
		}
		return nil, submissionAllowed(current, s.risk.Get().MaxVerifyAttempts)
	}

	s.metrics.RecordVerification(ctx, "verified")
	log.Info("order verified by customer")
	s.syncTags(ctx, current)

	if policy.AutoApproveVerified {
		res, err := s.Capture(ctx, guarddomain.ActionRequest{
			MerchantID: current.MerchantID,
			OrderID:    current.OrderID,
			Reason:     "auto-approved after verification",
		})
		if err != nil {
			s.metrics.RecordSideEffectFailure(ctx, "auto_capture")
			log.Warn("auto capture after verification failed", zap.Error(err))
		} else {
			current = res.Order
		}
	}
	return &guarddomain.VerificationResult{Order: current}, nil
}

func (s *Service) mismatch(ctx context.Context, log *zap.Logger, order *guarddomain.Order, maxAttempts int, policy settingsdomain.RiskSettings) error {
	current := order
	for i := 0; i < mismatchRetries; i++ {
		ok, err := s.repo.RecordMismatch(ctx, s.db, current.MerchantID, current.OrderID, current.Attempts, maxAttempts, s.clock.Now())
		if err != nil {
			return err
		}
		if ok {
			return s.afterMismatch(ctx, log, current.Attempts+1, maxAttempts, current, policy)
		}

		current, err = s.repo.Get(ctx, s.db, order.MerchantID, order.OrderID)
		if err != nil {
			return err
		}
		if current.Status == guarddomain.StatusVerified {
			return guarddomain.ErrOrderClosed
		}
		if err := submissionAllowed(current, maxAttempts); err != nil {
			return err
		}
	}
	return &guarddomain.MismatchError{Remaining: maxAttempts - current.Attempts}
}

func (s *Service) afterMismatch(ctx context.Context, log *zap.Logger, attempts, maxAttempts int, order *guarddomain.Order, policy settingsdomain.RiskSettings) error {
	if attempts < maxAttempts {
		s.metrics.RecordVerification(ctx, "mismatch")
		log.Info("verification mismatch", zap.Int("attempt", attempts), zap.Int("remaining", maxAttempts-attempts))
		return &guarddomain.MismatchError{Remaining: maxAttempts - attempts}
	}

	s.metrics.RecordVerification(ctx, "exhausted")
	log.Warn("verification attempts exhausted, order unverified", zap.Int("attempt", attempts))

	current, err := s.repo.Get(ctx, s.db, order.MerchantID, order.OrderID)
	if err != nil {
		log.Warn("reload after exhaustion failed", zap.Error(err))
		return &guarddomain.MismatchError{Exhausted: true}
	}
	s.syncTags(ctx, current)

	if policy.AutoCancelUnverified {
		if _, err := s.Cancel(ctx, guarddomain.ActionRequest{
			MerchantID: current.MerchantID,
			OrderID:    current.OrderID,
			Reason:     "auto-cancelled after failed verification",
		}); err != nil {
			s.metrics.RecordSideEffectFailure(ctx, "auto_cancel")
			log.Warn("auto cancel after failed verification failed", zap.Error(err))
		}
	}
	return &guarddomain.MismatchError{Exhausted: true}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeZip(zip string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(zip) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
