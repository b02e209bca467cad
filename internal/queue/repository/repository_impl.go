package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"gorm.io/gorm"
)

const maxErrorLength = 2000

type repo struct{}

func Provide() queuedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *queuedomain.QueueItem) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*queuedomain.QueueItem, error) {
	var item queuedomain.QueueItem
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListEligible(ctx context.Context, db *gorm.DB, merchantID string, now time.Time, limit int) ([]queuedomain.QueueItem, error) {
	var items []queuedomain.QueueItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, type, payload, status, attempts, max_attempts, last_error, next_attempt_after, created_at, updated_at
		 FROM queue_items
		 WHERE merchant_id = ? AND status = ? AND attempts < max_attempts AND next_attempt_after <= ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		merchantID,
		queuedomain.StatusPending,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountEligible(ctx context.Context, db *gorm.DB, merchantID string, now time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&queuedomain.QueueItem{}).
		Where("merchant_id = ? AND status = ? AND attempts < max_attempts AND next_attempt_after <= ?",
			merchantID, queuedomain.StatusPending, now).
		Count(&count).Error
	return count, err
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, seenAttempts int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE queue_items
		 SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND attempts = ? AND attempts < max_attempts`,
		queuedomain.StatusProcessing,
		now,
		id,
		queuedomain.StatusPending,
		seenAttempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE queue_items SET status = ?, last_error = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		queuedomain.StatusCompleted,
		now,
		id,
		queuedomain.StatusProcessing,
	).Error
}

func (r *repo) Retry(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttemptAfter time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE queue_items
		 SET status = ?, next_attempt_after = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		queuedomain.StatusPending,
		nextAttemptAfter,
		truncate(lastError),
		now,
		id,
		queuedomain.StatusProcessing,
	).Error
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE queue_items SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		queuedomain.StatusFailed,
		truncate(lastError),
		now,
		id,
		queuedomain.StatusProcessing,
	).Error
}

func (r *repo) MerchantsWithBacklog(ctx context.Context, db *gorm.DB, now time.Time) ([]string, error) {
	var merchants []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT merchant_id
		 FROM queue_items
		 WHERE status = ? AND attempts < max_attempts AND next_attempt_after <= ?
		 ORDER BY merchant_id`,
		queuedomain.StatusPending,
		now,
	).Scan(&merchants).Error
	if err != nil {
		return nil, err
	}
	return merchants, nil
}

// RecoverStale releases items whose processor died mid-handler: back to
// pending while attempts remain, otherwise failed.
func (r *repo) RecoverStale(ctx context.Context, db *gorm.DB, staleBefore, now time.Time) (int64, error) {
	var recovered int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		retry := tx.Exec(
			`UPDATE queue_items
			 SET status = ?, next_attempt_after = ?, last_error = ?, updated_at = ?
			 WHERE status = ? AND updated_at < ? AND attempts < max_attempts`,
			queuedomain.StatusPending,
			now,
			"processing lease expired",
			now,
			queuedomain.StatusProcessing,
			staleBefore,
		)
		if retry.Error != nil {
			return retry.Error
		}
		fail := tx.Exec(
			`UPDATE queue_items
			 SET status = ?, last_error = ?, updated_at = ?
			 WHERE status = ? AND updated_at < ? AND attempts >= max_attempts`,
			queuedomain.StatusFailed,
			"processing lease expired",
			now,
			queuedomain.StatusProcessing,
			staleBefore,
		)
		if fail.Error != nil {
			return fail.Error
		}
		recovered = retry.RowsAffected + fail.RowsAffected
		return nil
	})
	return recovered, err
}

func (r *repo) DeleteCompletedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM queue_items WHERE status = ? AND updated_at < ?`,
		queuedomain.StatusCompleted,
		cutoff,
	)
	return res.RowsAffected, res.Error
}

func truncate(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
