package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/clock"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/settings/repository"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (settingsdomain.Service, *settingsdomain.Cache, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &settingsdomain.RiskSettings{})
	cache := settingsdomain.NewCache()
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Cache: cache,
	})
	return svc, cache, db
}

func TestGetReturnsDefaultsForUnknownMerchant(t *testing.T) {
	svc, _, _ := newService(t)
	got, err := svc.Get(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, settingsdomain.Defaults("shop-1"), got)
	assert.True(t, got.ShouldFlag("high"))
	assert.False(t, got.ShouldFlag("low"))
}

func TestUpdateInvalidatesCache(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "shop-1")
	require.NoError(t, err)
	_, cached := cache.Get("shop-1")
	require.True(t, cached)

	off := false
	on := true
	updated, err := svc.Update(ctx, "shop-1", settingsdomain.UpdateRequest{FlagMediumRisk: &off, AutoCancelHighRisk: &on})
	require.NoError(t, err)
	assert.False(t, updated.FlagMediumRisk)
	assert.True(t, updated.FlagHighRisk)
	assert.True(t, updated.AutoCancelHighRisk)

	_, cached = cache.Get("shop-1")
	assert.False(t, cached)

	got, err := svc.Get(ctx, "shop-1")
	require.NoError(t, err)
	assert.False(t, got.FlagMediumRisk)
	assert.True(t, got.AutoCancelHighRisk)
}

func TestCachedValueIsServedUntilInvalidated(t *testing.T) {
	svc, cache, db := newService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "shop-1")
	require.NoError(t, err)

	// a write that bypassed the service
	require.NoError(t, db.Create(&settingsdomain.RiskSettings{MerchantID: "shop-1", UpdatedAt: time.Now()}).Error)

	got, err := svc.Get(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, got.FlagHighRisk)

	cache.Reset()
	got, err = svc.Get(ctx, "shop-1")
	require.NoError(t, err)
	assert.False(t, got.FlagHighRisk)
}
