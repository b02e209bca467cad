package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/orderguard/internal/config"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrUnknownTopic     = errors.New("unknown_topic")
	ErrMissingMerchant  = errors.New("missing_merchant")
)

const (
	TopicOrderCreate        = "orders/create"
	TopicOrderCancelled     = "orders/cancelled"
	TopicOrderPaid          = "orders/paid"
	TopicSubscriptionUpdate = "app_subscriptions/update"
)

var topicTypes = map[string]queuedomain.Type{
	TopicOrderCreate:        queuedomain.TypeOrderCreate,
	TopicOrderCancelled:     queuedomain.TypeOrderCancel,
	TopicOrderPaid:          queuedomain.TypeOrderPaid,
	TopicSubscriptionUpdate: queuedomain.TypeSubscriptionUpdate,
}

// Request is one inbound platform event as received over HTTP.
type Request struct {
	Topic          string
	MerchantID     string
	IdempotencyKey string
	Signature      string
	Body           []byte
}

type Result struct {
	Decision    idempotencydomain.Decision `json:"decision"`
	QueueItemID string                     `json:"queue_item_id,omitempty"`
}

// Enqueuer appends a job inside the admission transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, merchantID string, job queuedomain.Job) (*queuedomain.QueueItem, error)
}

// Trigger starts an asynchronous drain of a merchant's queue.
type Trigger interface {
	Trigger(merchantID string)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Ledger  idempotencydomain.Ledger
	Queue   Enqueuer
	Trigger Trigger
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	secret  string
	ledger  idempotencydomain.Ledger
	queue   Enqueuer
	trigger Trigger
	metrics *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("webhook"),
		secret:  p.Cfg.WebhookSecret,
		ledger:  p.Ledger,
		queue:   p.Queue,
		trigger: p.Trigger,
		metrics: p.Metrics,
	}
}

// Ingest authenticates, admits and enqueues an event. Duplicates are
// acknowledged without enqueueing. The merchant's queue is drained
// asynchronously after commit.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	topic := strings.ToLower(strings.TrimSpace(req.Topic))
	if !VerifySignature(req.Body, req.Signature, s.secret) {
		s.metrics.RecordWebhookEvent(ctx, topic, "unauthenticated")
		return nil, ErrInvalidSignature
	}

	merchantID := strings.ToLower(strings.TrimSpace(req.MerchantID))
	if merchantID == "" {
		s.metrics.RecordWebhookEvent(ctx, topic, "invalid")
		return nil, ErrMissingMerchant
	}
	job, entityID, err := decode(topic, req.Body)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, topic, "invalid")
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(req.Signature)
	}

	log := s.log.With(
		zap.String("merchant_id", merchantID),
		zap.String("topic", topic),
		zap.String("entity_id", entityID),
	)

	result := &Result{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision, err := s.ledger.Admit(ctx, tx, idempotencydomain.Admission{
			MerchantID: merchantID,
			Key:        key,
			EntityID:   entityID,
			Type:       string(job.Type()),
		})
		if err != nil {
			return err
		}
		result.Decision = decision
		if !decision.Proceed() {
			return nil
		}
		item, err := s.queue.Enqueue(ctx, tx, merchantID, job)
		if err != nil {
			return err
		}
		result.QueueItemID = item.ID.String()
		return nil
	})
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, topic, "error")
		return nil, err
	}

	s.metrics.RecordWebhookEvent(ctx, topic, string(result.Decision))
	if result.Decision == idempotencydomain.DecisionDuplicate {
		log.Info("duplicate webhook ignored")
		return result, nil
	}

	log.Info("webhook enqueued", zap.String("queue_item_id", result.QueueItemID))
	if s.trigger != nil {
		s.trigger.Trigger(merchantID)
	}
	return result, nil
}

func decode(topic string, body []byte) (queuedomain.Job, string, error) {
	if !json.Valid(body) {
		return nil, "", ErrInvalidPayload
	}
	itemType, ok := topicTypes[topic]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	if itemType == queuedomain.TypeSubscriptionUpdate {
		var envelope platformdomain.SubscriptionEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		sub := envelope.AppSubscription
		if strings.TrimSpace(sub.ID) == "" {
			return nil, "", fmt.Errorf("%w: missing subscription id", ErrInvalidPayload)
		}
		return queuedomain.SubscriptionUpdateJob{Subscription: sub}, sub.ID, nil
	}

	job, err := queuedomain.DecodeJob(itemType, body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch j := job.(type) {
	case queuedomain.OrderCreateJob:
		return j, j.Order.EntityID(), nil
	case queuedomain.OrderCancelJob:
		return j, j.Order.EntityID(), nil
	case queuedomain.OrderPaidJob:
		return j, j.Order.EntityID(), nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}
