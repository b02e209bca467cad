package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/clock"
	pkgdb "github.com/smallbiznis/orderguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeySecretBytes = 32
	maxCreateAttempts = 3
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Seed stores "role:key" entries that are not stored yet and returns how
// many were added. Keys are only ever stored hashed.
func (s *Service) Seed(ctx context.Context, entries []string) (int, error) {
	added := 0
	for i, entry := range entries {
		role, raw, ok := strings.Cut(strings.TrimSpace(entry), ":")
		role = strings.ToLower(strings.TrimSpace(role))
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" || !apikeydomain.ValidRole(role) {
			return added, fmt.Errorf("%w: entry %d", apikeydomain.ErrInvalidSeed, i)
		}

		now := s.clock.Now()
		id := s.genID.Generate()
		created, err := s.repo.InsertIfAbsent(ctx, s.db, &apikeydomain.APIKey{
			ID:        id,
			KeyID:     newKeyID(id),
			Name:      "seeded " + role,
			Role:      role,
			KeyHash:   apikeydomain.HashKey(raw),
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	if added > 0 {
		s.log.Info("operator api keys seeded", zap.Int("count", added))
	}
	return added, nil
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrUnauthorized
	}
	key, err := s.repo.FindByHash(ctx, s.db, apikeydomain.HashKey(raw))
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !key.Usable(now) {
		return nil, apikeydomain.ErrUnauthorized
	}
	if err := s.repo.TouchLastUsed(ctx, s.db, key.KeyID, now); err != nil {
		s.log.Warn("api key last_used_at not updated", zap.String("key_id", key.KeyID), zap.Error(err))
	}
	return key, nil
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !apikeydomain.ValidRole(role) {
		return nil, apikeydomain.ErrInvalidRole
	}

	now := s.clock.Now()
	var (
		key   *apikeydomain.APIKey
		plain string
	)
	for attempt := 0; ; attempt++ {
		id := s.genID.Generate()
		keyID := newKeyID(id)
		raw, hash, err := generateAPIKey(keyID)
		if err != nil {
			return nil, err
		}

		key = &apikeydomain.APIKey{
			ID:        id,
			KeyID:     keyID,
			Name:      name,
			Role:      role,
			KeyHash:   hash,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Insert(ctx, s.db, key)
		if err == nil {
			plain = raw
			break
		}
		if !pkgdb.IsDuplicateKeyErr(err) || attempt+1 >= maxCreateAttempts {
			return nil, err
		}
		s.log.Warn("api key id collision, regenerating", zap.String("key_id", keyID))
	}

	s.log.Info("api key created", zap.String("key_id", key.KeyID), zap.String("role", role))
	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	ok, err := s.repo.Deactivate(ctx, s.db, trimmed, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:      key.KeyID,
		Name:       key.Name,
		Role:       key.Role,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
	}
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	plain := apikeydomain.FormatKey(keyID, secret)
	return plain, apikeydomain.HashKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}
