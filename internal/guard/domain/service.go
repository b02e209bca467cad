package domain

import (
	"context"
	"errors"
	"fmt"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/pkg/db/pagination"
)

var (
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrInvalidCredential    = errors.New("invalid_credential")
	ErrVerificationMismatch = errors.New("verification_mismatch")
	ErrAttemptsExhausted    = errors.New("verification_attempts_exhausted")
	ErrOrderClosed          = errors.New("order_closed")
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrUpstream             = errors.New("upstream_unavailable")
)

// MismatchError is returned for a failed verification submission.
type MismatchError struct {
	Remaining int
	Exhausted bool
}

func (e *MismatchError) Error() string {
	if e.Exhausted {
		return "verification failed, no attempts remaining"
	}
	return fmt.Sprintf("verification failed, %d attempts remaining", e.Remaining)
}

func (e *MismatchError) Unwrap() error {
	if e.Exhausted {
		return ErrAttemptsExhausted
	}
	return ErrVerificationMismatch
}

type FlagRequest struct {
	MerchantID      string
	Order           platformdomain.Order
	Risk            riskdomain.Result
	Tier            int
	NormalizedValue float64
}

type VerificationRequest struct {
	MerchantID string
	OrderID    int64
	Contact    string
	Last4      string
	Zip        string
	BINCountry string
}

type VerificationResult struct {
	Order           *Order `json:"order"`
	AlreadyVerified bool   `json:"already_verified"`
}

// ActionRequest drives a capture or cancel.
type ActionRequest struct {
	MerchantID string
	OrderID    int64
	Amount     string
	Manual     bool
	TagRef     string
	Reason     string
}

type ActionResult struct {
	Order          *Order                      `json:"order"`
	Transaction    *platformdomain.Transaction `json:"transaction,omitempty"`
	AlreadyApplied bool                        `json:"already_applied"`
}

type ListResult struct {
	Orders   []Order              `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Flag(ctx context.Context, req FlagRequest) (*Order, bool, error)
	Get(ctx context.Context, merchantID string, orderID int64) (*Order, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	SubmitVerification(ctx context.Context, req VerificationRequest, policy settingsdomain.RiskSettings) (*VerificationResult, error)
	Capture(ctx context.Context, req ActionRequest) (*ActionResult, error)
	Cancel(ctx context.Context, req ActionRequest) (*ActionResult, error)
	MarkPaid(ctx context.Context, merchantID string, orderID int64) (*Order, error)
	MarkCancelledExternally(ctx context.Context, merchantID string, order platformdomain.Order) (*Order, error)
}

// TagSyncer mirrors guard state onto merchant-visible order tags.
type TagSyncer interface {
	SyncTags(ctx context.Context, order *Order) error
}

// Counters receives prevented-amount updates.
type Counters interface {
	AddPrevented(ctx context.Context, merchantID string, amount float64) error
}
