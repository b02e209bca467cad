package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/clock"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"github.com/smallbiznis/orderguard/internal/queue/repository"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeHandlers struct {
	mu      sync.Mutex
	fail    map[int64]error
	handled []int64
	onCall  func(orderID int64)
}

func (f *fakeHandlers) record(orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, orderID)
	if f.onCall != nil {
		f.onCall(orderID)
	}
	if err, ok := f.fail[orderID]; ok {
		return err
	}
	return nil
}

func (f *fakeHandlers) HandleOrderCreate(_ context.Context, _ string, job queuedomain.OrderCreateJob) error {
	return f.record(job.Order.ID)
}

func (f *fakeHandlers) HandleOrderCancel(_ context.Context, _ string, job queuedomain.OrderCancelJob) error {
	return f.record(job.Order.ID)
}

func (f *fakeHandlers) HandleOrderPaid(_ context.Context, _ string, job queuedomain.OrderPaidJob) error {
	return f.record(job.Order.ID)
}

func (f *fakeHandlers) HandleSubscriptionUpdate(context.Context, string, queuedomain.SubscriptionUpdateJob) error {
	return f.record(0)
}

type stubLease struct {
	granted bool
}

func (s stubLease) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, s.granted, nil
}

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	service   *Service
	processor *Processor
	handlers  *fakeHandlers
	retrigger []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &queuedomain.QueueItem{})
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		clock:    clk,
		handlers: &fakeHandlers{fail: map[int64]error{}},
	}
	repo := repository.Provide()
	f.service = New(Params{DB: db, Log: zap.NewNop(), Clock: clk, GenID: node, Repo: repo})
	f.processor = NewProcessor(ProcessorParams{DB: db, Log: zap.NewNop(), Clock: clk, Repo: repo, Handlers: f.handlers})
	f.processor.retrigger = func(merchantID string) { f.retrigger = append(f.retrigger, merchantID) }
	return f
}

func (f *fixture) enqueue(t *testing.T, merchantID string, orderID int64) *queuedomain.QueueItem {
	t.Helper()
	item, err := f.service.Enqueue(context.Background(), nil, merchantID, queuedomain.OrderCreateJob{
		Order: platformdomain.Order{ID: orderID},
	})
	require.NoError(t, err)
	// distinct created_at keeps FIFO deterministic
	f.clock.Advance(time.Second)
	return item
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *queuedomain.QueueItem {
	t.Helper()
	item, err := repository.Provide().Get(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestProcessCompletesItemsInOrder(t *testing.T) {
	f := newFixture(t)
	first := f.enqueue(t, "shop-1", 1)
	second := f.enqueue(t, "shop-1", 2)

	res, err := f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.False(t, res.Retriggers)
	assert.Equal(t, []int64{1, 2}, f.handlers.handled)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		item := f.reload(t, id)
		assert.Equal(t, queuedomain.StatusCompleted, item.Status)
		assert.Equal(t, 1, item.Attempts)
	}
}

func TestOutcomeRecordedWhenDrainCancelledMidHandler(t *testing.T) {
	f := newFixture(t)
	done := f.enqueue(t, "shop-1", 1)
	failing := f.enqueue(t, "shop-2", 2)
	f.handlers.fail[2] = errors.New("platform timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.handlers.onCall = func(int64) { cancel() }

	_, _ = f.processor.Process(ctx, "shop-1")
	item := f.reload(t, done.ID)
	assert.Equal(t, queuedomain.StatusCompleted, item.Status)
	assert.Equal(t, 1, item.Attempts)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	_, _ = f.processor.Process(ctx, "shop-2")
	item = f.reload(t, failing.ID)
	assert.Equal(t, queuedomain.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "platform timeout", *item.LastError)
}

func TestProcessBacksOffLinearlyThenFails(t *testing.T) {
	f := newFixture(t)
	f.handlers.fail[7] = errors.New("platform timeout")
	item := f.enqueue(t, "shop-1", 7)
	ctx := context.Background()

	res, err := f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	stored := f.reload(t, item.ID)
	assert.Equal(t, queuedomain.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), stored.NextAttemptAfter.UTC())
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "platform timeout", *stored.LastError)

	// still under backoff
	res, err = f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	f.clock.Advance(30 * time.Second)
	res, err = f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	stored = f.reload(t, item.ID)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), stored.NextAttemptAfter.UTC())

	f.clock.Advance(60 * time.Second)
	res, err = f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	stored = f.reload(t, item.ID)
	assert.Equal(t, queuedomain.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	// failed is terminal
	f.clock.Advance(time.Hour)
	res, err = f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	stored = f.reload(t, item.ID)
	assert.Equal(t, 3, stored.Attempts)
	assert.LessOrEqual(t, stored.Attempts, stored.MaxAttempts)
	assert.Len(t, f.handlers.handled, 3)
}

func TestProcessBatchLimitRetriggers(t *testing.T) {
	f := newFixture(t)
	for i := int64(1); i <= 12; i++ {
		f.enqueue(t, "shop-1", i)
	}

	res, err := f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, queuedomain.BatchSize, res.Claimed)
	assert.Equal(t, int64(2), res.Backlog)
	assert.True(t, res.Retriggers)
	assert.Equal(t, []string{"shop-1"}, f.retrigger)

	res, err = f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.False(t, res.Retriggers)
	assert.Len(t, f.handlers.handled, 12)
}

func TestProcessIsolatesMerchants(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "shop-1", 1)
	other := f.enqueue(t, "shop-2", 2)

	_, err := f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, f.handlers.handled)
	assert.Equal(t, queuedomain.StatusPending, f.reload(t, other.ID).Status)

	merchants, err := f.service.MerchantsWithBacklog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-2"}, merchants)
}

func TestProcessFailsUndecodablePayloadImmediately(t *testing.T) {
	f := newFixture(t)
	item := f.enqueue(t, "shop-1", 1)
	require.NoError(t, f.db.Exec(`UPDATE queue_items SET payload = ? WHERE id = ?`, `{"id":0}`, item.ID).Error)

	res, err := f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, queuedomain.StatusFailed, f.reload(t, item.ID).Status)
}

func TestClaimLosesToConcurrentProcessor(t *testing.T) {
	f := newFixture(t)
	item := f.enqueue(t, "shop-1", 1)
	repo := repository.Provide()
	ctx := context.Background()

	ok, err := repo.Claim(ctx, f.db, item.ID, 0, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, f.db, item.ID, 0, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessSkipsWhenLeaseHeld(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "shop-1", 1)
	f.processor.lease = stubLease{granted: false}

	res, err := f.processor.Process(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, f.handlers.handled)
}

func TestTriggerDrainsInBackground(t *testing.T) {
	f := newFixture(t)
	item := f.enqueue(t, "shop-1", 1)

	f.processor.Trigger("shop-1")
	f.processor.Wait()

	assert.Equal(t, queuedomain.StatusCompleted, f.reload(t, item.ID).Status)
}

func TestPruneAndRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.enqueue(t, "shop-1", 1)
	_, err := f.processor.Process(ctx, "shop-1")
	require.NoError(t, err)

	stuck := f.enqueue(t, "shop-1", 2)
	ok, err := repository.Provide().Claim(ctx, f.db, stuck.ID, 0, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(2 * time.Hour)
	recovered, err := f.service.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)
	assert.Equal(t, queuedomain.StatusPending, f.reload(t, stuck.ID).Status)

	pruned, err := f.service.PruneCompleted(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	gone, err := repository.Provide().Get(ctx, f.db, done.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
