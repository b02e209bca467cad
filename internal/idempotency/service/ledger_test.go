package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/clock"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	"github.com/smallbiznis/orderguard/internal/idempotency/repository"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (idempotencydomain.Ledger, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &idempotencydomain.ProcessedEvent{})
	ledger := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return ledger, db
}

func TestAdmitFirstDeliveryThenDuplicate(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	admission := idempotencydomain.Admission{MerchantID: "shop-1", Key: "evt-1", EntityID: "1001", Type: "order_create"}

	decision, err := ledger.Admit(ctx, nil, admission)
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionAdmitted, decision)
	assert.True(t, decision.Proceed())

	decision, err = ledger.Admit(ctx, nil, admission)
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionDuplicate, decision)
	assert.False(t, decision.Proceed())

	var count int64
	require.NoError(t, db.Model(&idempotencydomain.ProcessedEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored idempotencydomain.ProcessedEvent
	require.NoError(t, db.Where("idempotency_key = ? AND entity_id = ? AND type = ?", "evt-1", "1001", "order_create").
		First(&stored).Error)
	assert.Equal(t, "shop-1", stored.MerchantID)
}

func TestAdmitDistinguishesEntityAndType(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	for _, admission := range []idempotencydomain.Admission{
		{MerchantID: "shop-1", Key: "evt-1", EntityID: "1001", Type: "order_create"},
		{MerchantID: "shop-1", Key: "evt-1", EntityID: "1002", Type: "order_create"},
		{MerchantID: "shop-1", Key: "evt-1", EntityID: "1001", Type: "order_paid"},
	} {
		decision, err := ledger.Admit(ctx, nil, admission)
		require.NoError(t, err)
		assert.Equal(t, idempotencydomain.DecisionAdmitted, decision)
	}
}

func TestAdmitWithoutKeyProceeds(t *testing.T) {
	ledger, db := newLedger(t)

	decision, err := ledger.Admit(context.Background(), nil, idempotencydomain.Admission{MerchantID: "shop-1", EntityID: "1001", Type: "order_create"})
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionUnkeyed, decision)
	assert.True(t, decision.Proceed())

	var count int64
	require.NoError(t, db.Model(&idempotencydomain.ProcessedEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAdmitRejectsIncompleteAdmission(t *testing.T) {
	ledger, _ := newLedger(t)
	_, err := ledger.Admit(context.Background(), nil, idempotencydomain.Admission{Key: "evt-1", EntityID: "1001"})
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidAdmission)
}

func TestAdmitConcurrentRacersHaveOneWinner(t *testing.T) {
	ledger, _ := newLedger(t)
	admission := idempotencydomain.Admission{MerchantID: "shop-1", Key: "evt-race", EntityID: "7", Type: "order_create"}

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := ledger.Admit(context.Background(), nil, admission)
			if err != nil {
				return
			}
			if decision == idempotencydomain.DecisionAdmitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}
