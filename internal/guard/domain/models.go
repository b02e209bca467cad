package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/orderguard/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
	StatusCaptured   Status = "captured payment"
	StatusCancelled  Status = "cancelled payment"
	StatusPaid       Status = "paid"
)

// IsTerminal reports a final payment status.
func (s Status) IsTerminal() bool {
	return s == StatusCaptured || s == StatusCancelled
}

const (
	TierNone = 0
	Tier1    = 1
	Tier2    = 2
)

// Order is the guard projection of a flagged order. Rows are never deleted.
type Order struct {
	MerchantID      string  `gorm:"column:merchant_id;type:varchar(255);primaryKey;index:ix_orders_account,priority:1" json:"merchant_id"`
	OrderID         int64   `gorm:"column:order_id;primaryKey;autoIncrement:false" json:"order_id"`
	OrderName       string  `gorm:"column:order_name;type:varchar(255)" json:"order_name"`
	CustomerEmail   string  `gorm:"column:customer_email;type:varchar(320)" json:"customer_email"`
	CustomerName    string  `gorm:"column:customer_name;type:varchar(255)" json:"customer_name"`
	Currency        string  `gorm:"column:currency;type:varchar(8)" json:"currency"`
	TotalPrice      string  `gorm:"column:total_price;type:varchar(32)" json:"total_price"`
	NormalizedValue float64 `gorm:"column:normalized_value;not null;default:0" json:"normalized_value"`
	BillingZip      string  `gorm:"column:billing_zip;type:varchar(32)" json:"-"`
	AccountNumber   string  `gorm:"column:account_number;type:varchar(64);index:ix_orders_account,priority:2" json:"-"`

	Status             Status `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	Remark             string `gorm:"column:remark;type:text" json:"remark"`
	Attempts           int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttemptsReached bool   `gorm:"column:max_attempts_reached;not null;default:false" json:"max_attempts_reached"`

	RiskScore             int            `gorm:"column:risk_score;not null;default:0" json:"risk_score"`
	RiskReasons           datatypes.JSON `gorm:"column:risk_reasons" json:"risk_reasons"`
	RiskLevel             string         `gorm:"column:risk_level;type:varchar(16);not null" json:"risk_level"`
	Tier                  *int           `gorm:"column:tier" json:"tier"`
	RiskStatusTag         string         `gorm:"column:risk_status_tag;type:varchar(64)" json:"risk_status_tag"`
	VerificationStatusTag string         `gorm:"column:verification_status_tag;type:varchar(64)" json:"verification_status_tag"`

	EmailLastSentAt       *time.Time `gorm:"column:email_last_sent_at" json:"email_last_sent_at"`
	EmailCount            int        `gorm:"column:email_count;not null;default:0" json:"email_count"`
	EmailMinResendDelayMs int64      `gorm:"column:email_min_resend_delay_ms;not null;default:0" json:"email_min_resend_delay_ms"`

	PaymentCaptured  bool       `gorm:"column:payment_captured;not null;default:false" json:"payment_captured"`
	PaymentCancelled bool       `gorm:"column:payment_cancelled;not null;default:false" json:"payment_cancelled"`
	PaidAt           *time.Time `gorm:"column:paid_at" json:"paid_at"`
	HoldCounted      bool       `gorm:"column:hold_counted;not null;default:false" json:"-"`
	PreventedCounted bool       `gorm:"column:prevented_counted;not null;default:false" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:ix_orders_account,priority:3" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// TierValue returns the tier or TierNone.
func (o *Order) TierValue() int {
	if o == nil || o.Tier == nil {
		return TierNone
	}
	return *o.Tier
}

// ListFilter narrows a merchant's flagged orders.
type ListFilter struct {
	MerchantID string
	Status     Status
	Pagination pagination.Pagination
}

type Repository interface {
	// Create inserts the order if absent and reports whether it did.
	Create(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	Get(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, after *pagination.Cursor, limit int) ([]Order, error)
	HasFlaggedAccount(ctx context.Context, db *gorm.DB, merchantID, account string, excludeOrderID int64) (bool, error)

	// Conditional transitions; false means the precondition did not hold.
	RecordMismatch(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, seenAttempts, maxAttempts int, now time.Time) (bool, error)
	MarkVerified(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, now time.Time) (bool, error)
	MarkCaptured(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, remark string, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, remark string, now time.Time) (bool, error)
	MarkPaid(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, now time.Time) (bool, error)

	UpdateTags(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, riskTag, verificationTag string, now time.Time) error
	ClaimEmailSlot(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, notAfter time.Time, cooldown time.Duration, now time.Time) (bool, error)
	ReleaseEmailSlot(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, claimedAt time.Time, previous *time.Time) error
	ClaimHoldCount(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (bool, error)
	ClaimPreventedCount(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (bool, error)
}
