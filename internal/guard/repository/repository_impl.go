package repository

import (
	"context"
	"errors"
	"time"

	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStatuses = []guarddomain.Status{guarddomain.StatusCaptured, guarddomain.StatusCancelled}

type repo struct{}

func Provide() guarddomain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, order *guarddomain.Order) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (*guarddomain.Order, error) {
	var order guarddomain.Order
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND order_id = ?", merchantID, orderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter guarddomain.ListFilter, after *pagination.Cursor, limit int) ([]guarddomain.Order, error) {
	q := db.WithContext(ctx).Where("merchant_id = ?", filter.MerchantID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if after != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND order_id < ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var orders []guarddomain.Order
	err := q.Order("created_at DESC").Order("order_id DESC").Limit(limit + 1).Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) HasFlaggedAccount(ctx context.Context, db *gorm.DB, merchantID, account string, excludeOrderID int64) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND account_number = ? AND order_id <> ?", merchantID, account, excludeOrderID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) RecordMismatch(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, seenAttempts, maxAttempts int, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": now,
	}
	if seenAttempts+1 >= maxAttempts {
		updates["status"] = guarddomain.StatusUnverified
		updates["max_attempts_reached"] = true
		updates["remark"] = "verification attempts exhausted"
	}

	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND status = ? AND attempts = ? AND attempts < ?",
			merchantID, orderID, guarddomain.StatusPending, seenAttempts, maxAttempts).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkVerified(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND status = ?", merchantID, orderID, guarddomain.StatusPending).
		Updates(map[string]interface{}{
			"status":     guarddomain.StatusVerified,
			"remark":     "customer verified",
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkCaptured(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, remark string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND status NOT IN ?", merchantID, orderID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":           guarddomain.StatusCaptured,
			"payment_captured": true,
			"remark":           remark,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, remark string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND status NOT IN ?", merchantID, orderID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":            guarddomain.StatusCancelled,
			"payment_cancelled": true,
			"remark":            remark,
			"updated_at":        now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND status NOT IN ?", merchantID, orderID,
			append([]guarddomain.Status{guarddomain.StatusPaid}, terminalStatuses...)).
		Updates(map[string]interface{}{
			"status":     guarddomain.StatusPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) UpdateTags(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, riskTag, verificationTag string, now time.Time) error {
	return db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ?", merchantID, orderID).
		Updates(map[string]interface{}{
			"risk_status_tag":         riskTag,
			"verification_status_tag": verificationTag,
			"updated_at":              now,
		}).Error
}

func (r *repo) ClaimEmailSlot(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, notAfter time.Time, cooldown time.Duration, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND (email_last_sent_at IS NULL OR email_last_sent_at <= ?)", merchantID, orderID, notAfter).
		Updates(map[string]interface{}{
			"email_last_sent_at":        now,
			"email_count":               gorm.Expr("email_count + 1"),
			"email_min_resend_delay_ms": cooldown.Milliseconds(),
			"updated_at":                now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ReleaseEmailSlot(ctx context.Context, db *gorm.DB, merchantID string, orderID int64, claimedAt time.Time, previous *time.Time) error {
	var restored interface{} = gorm.Expr("NULL")
	if previous != nil {
		restored = *previous
	}
	return db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND email_last_sent_at = ?", merchantID, orderID, claimedAt).
		Updates(map[string]interface{}{
			"email_last_sent_at": restored,
			"email_count":        gorm.Expr("email_count - 1"),
		}).Error
}

func (r *repo) ClaimHoldCount(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND hold_counted = ?", merchantID, orderID, false).
		Update("hold_counted", true)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ClaimPreventedCount(ctx context.Context, db *gorm.DB, merchantID string, orderID int64) (bool, error) {
	res := db.WithContext(ctx).Model(&guarddomain.Order{}).
		Where("merchant_id = ? AND order_id = ? AND prevented_counted = ?", merchantID, orderID, false).
		Update("prevented_counted", true)
	return res.RowsAffected == 1, res.Error
}
