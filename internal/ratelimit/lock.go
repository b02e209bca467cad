package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token, so an expired
// lease taken over by another drain is never released by its former owner.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockerDisabled = errors.New("locker_disabled")
	ErrInvalidLease   = errors.New("invalid_lease")
)

// Locker hands out exclusive redis leases.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

// Lease is a held lock. The token identifies the owner.
type Lease struct {
	Key   string
	Token string

	locker *Locker
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
	}
}

// TryAcquire returns (nil, false, nil) when someone else holds the key.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, ErrLockerDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" || ttl <= 0 {
		return nil, false, ErrInvalidLease
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token, locker: l}, true, nil
}

// Release is a no-op on a nil lease or one that has already expired.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.locker == nil {
		return nil
	}
	return l.locker.release.Run(ctx, l.locker.client, []string{l.Key}, l.Token).Err()
}
