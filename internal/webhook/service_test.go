package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	idempotencyrepo "github.com/smallbiznis/orderguard/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/orderguard/internal/idempotency/service"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	queuerepo "github.com/smallbiznis/orderguard/internal/queue/repository"
	queueservice "github.com/smallbiznis/orderguard/internal/queue/service"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "whsec-test"

type recordingTrigger struct {
	mu        sync.Mutex
	merchants []string
}

func (r *recordingTrigger) Trigger(merchantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants = append(r.merchants, merchantID)
}

type countingHandlers struct {
	mu      sync.Mutex
	created []int64
}

func (c *countingHandlers) HandleOrderCreate(_ context.Context, _ string, job queuedomain.OrderCreateJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, job.Order.ID)
	return nil
}

func (c *countingHandlers) HandleOrderCancel(context.Context, string, queuedomain.OrderCancelJob) error {
	return nil
}

func (c *countingHandlers) HandleOrderPaid(context.Context, string, queuedomain.OrderPaidJob) error {
	return nil
}

func (c *countingHandlers) HandleSubscriptionUpdate(context.Context, string, queuedomain.SubscriptionUpdateJob) error {
	return nil
}

type fixture struct {
	db        *gorm.DB
	svc       *Service
	trigger   *recordingTrigger
	processor *queueservice.Processor
	handlers  *countingHandlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &idempotencydomain.ProcessedEvent{}, &queuedomain.QueueItem{})
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	qrepo := queuerepo.Provide()
	queue := queueservice.New(queueservice.Params{DB: db, Log: zap.NewNop(), Clock: clk, GenID: node, Repo: qrepo})
	ledger := idempotencyservice.New(idempotencyservice.Params{DB: db, Log: zap.NewNop(), Clock: clk, Repo: idempotencyrepo.Provide()})

	f := &fixture{db: db, trigger: &recordingTrigger{}, handlers: &countingHandlers{}}
	f.processor = queueservice.NewProcessor(queueservice.ProcessorParams{DB: db, Log: zap.NewNop(), Clock: clk, Repo: qrepo, Handlers: f.handlers})
	f.svc = NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Cfg:     config.Config{WebhookSecret: secret},
		Ledger:  ledger,
		Queue:   queue,
		Trigger: f.trigger,
	})
	return f
}

func (f *fixture) countItems(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&queuedomain.QueueItem{}).Count(&n).Error)
	return n
}

func signed(topic, key string, body []byte) Request {
	return Request{
		Topic:          topic,
		MerchantID:     "Shop-1.Example.com",
		IdempotencyKey: key,
		Signature:      Sign(body, secret),
		Body:           body,
	}
}

func TestDuplicateDeliveryEnqueuesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte(`{"id":1001,"name":"#1001","total_price":"10.00","currency":"USD"}`)

	first, err := f.svc.Ingest(ctx, signed(TopicOrderCreate, "evt-1", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionAdmitted, first.Decision)
	assert.NotEmpty(t, first.QueueItemID)

	second, err := f.svc.Ingest(ctx, signed(TopicOrderCreate, "evt-1", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionDuplicate, second.Decision)
	assert.Empty(t, second.QueueItemID)

	assert.Equal(t, int64(1), f.countItems(t))
	assert.Equal(t, []string{"shop-1.example.com"}, f.trigger.merchants)

	res, err := f.processor.Process(ctx, "shop-1.example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, []int64{1001}, f.handlers.created)
}

func TestSameKeyDifferentTopicIsAdmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte(`{"id":1002}`)

	_, err := f.svc.Ingest(ctx, signed(TopicOrderCreate, "evt-2", body))
	require.NoError(t, err)
	res, err := f.svc.Ingest(ctx, signed(TopicOrderPaid, "evt-2", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionAdmitted, res.Decision)
	assert.Equal(t, int64(2), f.countItems(t))
}

func TestMissingKeyFallsBackToSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte(`{"id":1003}`)

	first, err := f.svc.Ingest(ctx, signed(TopicOrderCancelled, "", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionAdmitted, first.Decision)

	second, err := f.svc.Ingest(ctx, signed(TopicOrderCancelled, "", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionDuplicate, second.Decision)
}

func TestRejectedRequestsHaveNoEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte(`{"id":1004}`)

	bad := signed(TopicOrderCreate, "evt-4", body)
	bad.Signature = Sign(body, "other-secret")
	_, err := f.svc.Ingest(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := signed(TopicOrderCreate, "evt-4", body)
	tampered.Body = []byte(`{"id":1005}`)
	_, err = f.svc.Ingest(ctx, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.svc.Ingest(ctx, signed(TopicOrderCreate, "evt-4", []byte(`{"id":`)))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.svc.Ingest(ctx, signed(TopicOrderCreate, "evt-4", []byte(`{"name":"no id"}`)))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.svc.Ingest(ctx, signed("products/update", "evt-4", body))
	assert.ErrorIs(t, err, ErrUnknownTopic)

	noMerchant := signed(TopicOrderCreate, "evt-4", body)
	noMerchant.MerchantID = ""
	_, err = f.svc.Ingest(ctx, noMerchant)
	assert.ErrorIs(t, err, ErrMissingMerchant)

	assert.Equal(t, int64(0), f.countItems(t))
	assert.Empty(t, f.trigger.merchants)
}

func TestSubscriptionEnvelope(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"app_subscription":{"admin_graphql_api_id":"gid://sub/7","name":"Pro","status":"ACTIVE"}}`)

	res, err := f.svc.Ingest(context.Background(), signed(TopicSubscriptionUpdate, "evt-7", body))
	require.NoError(t, err)
	assert.Equal(t, idempotencydomain.DecisionAdmitted, res.Decision)

	var item queuedomain.QueueItem
	require.NoError(t, f.db.First(&item).Error)
	assert.Equal(t, queuedomain.TypeSubscriptionUpdate, item.Type)
	job, err := queuedomain.DecodeJob(item.Type, item.Payload)
	require.NoError(t, err)
	assert.Equal(t, "gid://sub/7", job.(queuedomain.SubscriptionUpdateJob).Subscription.ID)
}
