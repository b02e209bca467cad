package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderguard/internal/config"
)

const (
	keyVerificationSubject = "orderguard:verify:%s"
	keyProcessorLease      = "orderguard:queue:lease:%s"

	defaultLeaseTTL = 2 * time.Minute
)

// VerificationLimiter throttles verification submissions per credential subject.
type VerificationLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewVerificationLimiter(client *redis.Client, cfg config.Config) *VerificationLimiter {
	if client == nil || cfg.Verification.RateLimit <= 0 || cfg.Verification.Burst <= 0 {
		return nil
	}
	return &VerificationLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Verification.RateLimit,
		burst:  cfg.Verification.Burst,
	}
}

func (l *VerificationLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *VerificationLimiter) Allow(ctx context.Context, subject string) (*Allowance, error) {
	if !l.Enabled() {
		return &Allowance{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyVerificationSubject, strings.TrimSpace(subject)), l.rate, l.burst)
}

// ProcessorLease keeps two drains of the same merchant from overlapping.
// It is an optimisation only; queue claims stay conditional updates.
type ProcessorLease struct {
	locker *Locker
	ttl    time.Duration
}

func NewProcessorLease(client *redis.Client) *ProcessorLease {
	if client == nil {
		return nil
	}
	return &ProcessorLease{locker: NewLocker(client), ttl: defaultLeaseTTL}
}

// Acquire reports whether the caller holds the lease. A disabled lease
// always grants.
func (l *ProcessorLease) Acquire(ctx context.Context, merchantID string) (func(), bool, error) {
	if l == nil || l.locker == nil {
		return func() {}, true, nil
	}

	held, ok, err := l.locker.TryAcquire(ctx, fmt.Sprintf(keyProcessorLease, strings.TrimSpace(merchantID)), l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = held.Release(releaseCtx)
	}
	return release, true, nil
}
