package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Type string

const (
	TypeOrderCreate        Type = "order_create"
	TypeOrderCancel        Type = "order_cancel"
	TypeOrderPaid          Type = "order_paid"
	TypeSubscriptionUpdate Type = "subscription_update"
)

const (
	DefaultMaxAttempts = 3
	BatchSize          = 10
	BackoffStep        = 30 * time.Second
)

// QueueItem is one unit of durable, per-merchant side-effect work.
type QueueItem struct {
	ID               snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	MerchantID       string         `gorm:"column:merchant_id;type:varchar(255);not null;index:ix_queue_items_eligible,priority:1"`
	Type             Type           `gorm:"column:type;type:varchar(64);not null"`
	Payload          datatypes.JSON `gorm:"column:payload;not null"`
	Status           Status         `gorm:"column:status;type:varchar(32);not null;index:ix_queue_items_eligible,priority:2"`
	Attempts         int            `gorm:"column:attempts;not null;default:0"`
	MaxAttempts      int            `gorm:"column:max_attempts;not null;default:3"`
	LastError        *string        `gorm:"column:last_error;type:text"`
	NextAttemptAfter time.Time      `gorm:"column:next_attempt_after;not null;index:ix_queue_items_eligible,priority:3"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;not null"`
}

func (QueueItem) TableName() string { return "queue_items" }

// Backoff is the delay before the next attempt after a failed attempt n.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * BackoffStep
}

// BatchResult summarises one Process invocation for one merchant.
type BatchResult struct {
	MerchantID string
	Claimed    int
	Completed  int
	Retried    int
	Failed     int
	Skipped    int
	Backlog    int64
	Retriggers bool
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrUnknownType     = errors.New("unknown_queue_item_type")
	ErrInvalidPayload  = errors.New("invalid_queue_item_payload")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *QueueItem) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*QueueItem, error)
	ListEligible(ctx context.Context, db *gorm.DB, merchantID string, now time.Time, limit int) ([]QueueItem, error)
	CountEligible(ctx context.Context, db *gorm.DB, merchantID string, now time.Time) (int64, error)
	// Claim moves a listed item to processing; false means another
	// processor got there first.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, seenAttempts int, now time.Time) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Retry(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttemptAfter time.Time, lastError string, now time.Time) error
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error
	MerchantsWithBacklog(ctx context.Context, db *gorm.DB, now time.Time) ([]string, error)
	RecoverStale(ctx context.Context, db *gorm.DB, staleBefore, now time.Time) (int64, error)
	DeleteCompletedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// Lease optionally serialises drains of one merchant across processes.
type Lease interface {
	Acquire(ctx context.Context, merchantID string) (release func(), ok bool, err error)
}
