package domain

import (
	"context"
	"errors"
	"testing"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandlers struct {
	calls []Type
}

func (r *recordingHandlers) HandleOrderCreate(context.Context, string, OrderCreateJob) error {
	r.calls = append(r.calls, TypeOrderCreate)
	return nil
}

func (r *recordingHandlers) HandleOrderCancel(context.Context, string, OrderCancelJob) error {
	r.calls = append(r.calls, TypeOrderCancel)
	return nil
}

func (r *recordingHandlers) HandleOrderPaid(context.Context, string, OrderPaidJob) error {
	r.calls = append(r.calls, TypeOrderPaid)
	return nil
}

func (r *recordingHandlers) HandleSubscriptionUpdate(context.Context, string, SubscriptionUpdateJob) error {
	r.calls = append(r.calls, TypeSubscriptionUpdate)
	return errors.New("boom")
}

func TestDecodeJobVariants(t *testing.T) {
	order := platformdomain.Order{ID: 42, Name: "#1042", TotalPrice: "10.00"}
	for _, job := range []Job{
		OrderCreateJob{Order: order},
		OrderCancelJob{Order: order},
		OrderPaidJob{Order: order},
		SubscriptionUpdateJob{Subscription: platformdomain.AppSubscription{ID: "sub-1", Status: "ACTIVE"}},
	} {
		payload, err := EncodeJob(job)
		require.NoError(t, err)

		decoded, err := DecodeJob(job.Type(), payload)
		require.NoError(t, err)
		assert.Equal(t, job, decoded)
	}
}

func TestDecodeJobRejectsBadInput(t *testing.T) {
	_, err := DecodeJob("mystery", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeJob(TypeOrderCreate, []byte(`{"id":0}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeJob(TypeOrderPaid, []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDispatchRoutesByVariant(t *testing.T) {
	h := &recordingHandlers{}
	ctx := context.Background()

	require.NoError(t, Dispatch(ctx, h, "shop", OrderCreateJob{}))
	require.NoError(t, Dispatch(ctx, h, "shop", OrderCancelJob{}))
	require.NoError(t, Dispatch(ctx, h, "shop", OrderPaidJob{}))
	assert.EqualError(t, Dispatch(ctx, h, "shop", SubscriptionUpdateJob{}), "boom")

	assert.Equal(t, []Type{TypeOrderCreate, TypeOrderCancel, TypeOrderPaid, TypeSubscriptionUpdate}, h.calls)
}

func TestBackoffIsLinear(t *testing.T) {
	assert.Equal(t, BackoffStep, Backoff(1))
	assert.Equal(t, 2*BackoffStep, Backoff(2))
	assert.Equal(t, BackoffStep, Backoff(0))
}
