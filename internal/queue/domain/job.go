package domain

import (
	"context"
	"encoding/json"
	"fmt"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"gorm.io/datatypes"
)

// Job is the decoded payload of a queue item. The set of variants is closed.
type Job interface {
	Type() Type
	sealed()
}

type OrderCreateJob struct {
	Order platformdomain.Order
}

type OrderCancelJob struct {
	Order platformdomain.Order
}

type OrderPaidJob struct {
	Order platformdomain.Order
}

type SubscriptionUpdateJob struct {
	Subscription platformdomain.AppSubscription
}

func (OrderCreateJob) Type() Type        { return TypeOrderCreate }
func (OrderCancelJob) Type() Type        { return TypeOrderCancel }
func (OrderPaidJob) Type() Type          { return TypeOrderPaid }
func (SubscriptionUpdateJob) Type() Type { return TypeSubscriptionUpdate }

func (OrderCreateJob) sealed()        {}
func (OrderCancelJob) sealed()        {}
func (OrderPaidJob) sealed()          {}
func (SubscriptionUpdateJob) sealed() {}

// Handlers executes each job variant. Returning an error schedules a retry.
type Handlers interface {
	HandleOrderCreate(ctx context.Context, merchantID string, job OrderCreateJob) error
	HandleOrderCancel(ctx context.Context, merchantID string, job OrderCancelJob) error
	HandleOrderPaid(ctx context.Context, merchantID string, job OrderPaidJob) error
	HandleSubscriptionUpdate(ctx context.Context, merchantID string, job SubscriptionUpdateJob) error
}

// EncodeJob serialises the payload stored on the queue item.
func EncodeJob(job Job) (datatypes.JSON, error) {
	var body interface{}
	switch j := job.(type) {
	case OrderCreateJob:
		body = j.Order
	case OrderCancelJob:
		body = j.Order
	case OrderPaidJob:
		body = j.Order
	case SubscriptionUpdateJob:
		body = j.Subscription
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, job)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return datatypes.JSON(raw), nil
}

func DecodeJob(itemType Type, payload []byte) (Job, error) {
	switch itemType {
	case TypeOrderCreate, TypeOrderCancel, TypeOrderPaid:
		var order platformdomain.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if order.ID == 0 {
			return nil, fmt.Errorf("%w: missing order id", ErrInvalidPayload)
		}
		switch itemType {
		case TypeOrderCreate:
			return OrderCreateJob{Order: order}, nil
		case TypeOrderCancel:
			return OrderCancelJob{Order: order}, nil
		default:
			return OrderPaidJob{Order: order}, nil
		}
	case TypeSubscriptionUpdate:
		var sub platformdomain.AppSubscription
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return SubscriptionUpdateJob{Subscription: sub}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, itemType)
	}
}

// Dispatch routes a job to its handler.
func Dispatch(ctx context.Context, h Handlers, merchantID string, job Job) error {
	switch j := job.(type) {
	case OrderCreateJob:
		return h.HandleOrderCreate(ctx, merchantID, j)
	case OrderCancelJob:
		return h.HandleOrderCancel(ctx, merchantID, j)
	case OrderPaidJob:
		return h.HandleOrderPaid(ctx, merchantID, j)
	case SubscriptionUpdateJob:
		return h.HandleSubscriptionUpdate(ctx, merchantID, j)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, job)
	}
}
