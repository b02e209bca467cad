package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent skips keys whose hash is already stored.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, key *APIKey) (bool, error)
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB) ([]APIKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, keyID string, now time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, keyID string, now time.Time) error
}

type Service interface {
	Seed(ctx context.Context, entries []string) (int, error)
	Authenticate(ctx context.Context, raw string) (*APIKey, error)
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
}

type CreateRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type Response struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrInvalidSeed  = errors.New("invalid_api_key_seed")
	ErrUnauthorized = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("not_found")
)
