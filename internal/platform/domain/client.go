package domain

import (
	"context"
	"errors"
)

var (
	ErrOrderNotFound     = errors.New("platform_order_not_found")
	ErrUnauthorized      = errors.New("platform_unauthorized")
	ErrRateLimited       = errors.New("platform_rate_limited")
	ErrUnavailable       = errors.New("platform_unavailable")
	ErrTransactionFailed = errors.New("platform_transaction_failed")
)

// Client is the narrow slice of the commerce platform API the guard needs.
// Implementations must honour ctx deadlines.
type Client interface {
	ListTransactions(ctx context.Context, merchantID string, orderID int64) ([]Transaction, error)
	GetRiskAssessment(ctx context.Context, merchantID string, orderID int64) (*RiskAssessment, error)
	AddTags(ctx context.Context, merchantID string, orderID int64, tags []string) error
	RemoveTags(ctx context.Context, merchantID string, orderID int64, tags []string) error
	Capture(ctx context.Context, merchantID string, orderID int64, amount, currency string) (*Transaction, error)
	Cancel(ctx context.Context, merchantID string, orderID int64, reason string) (*Transaction, error)
}

// AccountNumber picks the card fingerprint of the order's primary payment.
func AccountNumber(transactions []Transaction) string {
	for _, txn := range transactions {
		if txn.IsFailed() {
			continue
		}
		if fp := txn.PaymentDetails.Fingerprint(); fp != "" {
			return fp
		}
	}
	for _, txn := range transactions {
		if fp := txn.PaymentDetails.Fingerprint(); fp != "" {
			return fp
		}
	}
	return ""
}
