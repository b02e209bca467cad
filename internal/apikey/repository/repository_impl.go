package repository

import (
	"context"
	"errors"
	"time"

	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	return r.findOne(db.WithContext(ctx).Where("key_hash = ?", hash))
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*apikeydomain.APIKey, error) {
	return r.findOne(db.WithContext(ctx).Where("key_id = ?", keyID))
}

func (r *repo) findOne(q *gorm.DB) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := q.First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, keyID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&apikeydomain.APIKey{}).
		Where("key_id = ? AND is_active = ?", keyID, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"expires_at": now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, keyID string, now time.Time) error {
	return db.WithContext(ctx).Model(&apikeydomain.APIKey{}).
		Where("key_id = ?", keyID).
		Update("last_used_at", now).Error
}
