package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ProcessedEvent is the write-once admission record of an inbound event.
type ProcessedEvent struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(255);primaryKey"`
	EntityID       string    `gorm:"column:entity_id;type:varchar(64);primaryKey"`
	Type           string    `gorm:"column:type;type:varchar(64);primaryKey"`
	MerchantID     string    `gorm:"column:merchant_id;type:varchar(255);not null;index"`
	ProcessedAt    time.Time `gorm:"column:processed_at;not null"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

type Admission struct {
	MerchantID string
	Key        string
	EntityID   string
	Type       string
}

type Decision string

const (
	// DecisionAdmitted: first delivery, the caller enqueues.
	DecisionAdmitted Decision = "admitted"
	// DecisionDuplicate: already handled, the caller acknowledges and stops.
	DecisionDuplicate Decision = "duplicate"
	// DecisionUnkeyed: no idempotency key, processed without dedupe.
	DecisionUnkeyed Decision = "unkeyed"
)

// Proceed reports whether the caller should enqueue work for the event.
func (d Decision) Proceed() bool {
	return d != DecisionDuplicate
}

var ErrInvalidAdmission = errors.New("invalid_admission")

type Repository interface {
	// InsertIfAbsent reports whether this call created the record.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) (bool, error)
}

type Ledger interface {
	// Admit runs on tx when given so the admission commits with the enqueue.
	Admit(ctx context.Context, tx *gorm.DB, admission Admission) (Decision, error)
}
