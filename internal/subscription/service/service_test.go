package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/clock"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	subscriptiondomain "github.com/smallbiznis/orderguard/internal/subscription/domain"
	"github.com/smallbiznis/orderguard/internal/subscription/repository"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) subscriptiondomain.Service {
	t.Helper()
	return NewService(ServiceParam{
		DB:    dbtest.Open(t, &subscriptiondomain.MerchantSubscription{}),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestRecordKeepsNewestUpdate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC)

	applied, err := svc.Record(ctx, "shop-9", platformdomain.AppSubscription{ID: "sub-1", Name: "Pro", Status: "active", UpdatedAt: base})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Record(ctx, "shop-9", platformdomain.AppSubscription{ID: "sub-1", Name: "Pro", Status: "CANCELLED", UpdatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Record(ctx, "shop-9", platformdomain.AppSubscription{ID: "sub-1", Name: "Pro", Status: "ACTIVE", UpdatedAt: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, applied)

	sub, err := svc.Get(ctx, "shop-9")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.IsActive())
}

func TestRecordValidation(t *testing.T) {
	svc := newService(t)
	_, err := svc.Record(context.Background(), " ", platformdomain.AppSubscription{ID: "sub-1", Status: "ACTIVE"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidMerchant)

	_, err = svc.Record(context.Background(), "shop-9", platformdomain.AppSubscription{Status: "ACTIVE"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscription)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)
}
