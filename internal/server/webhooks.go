package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orderguard/internal/observability/context"
	"github.com/smallbiznis/orderguard/internal/webhook"
)

const (
	HeaderShopDomain   = "X-Shop-Domain"
	HeaderWebhookTopic = "X-Webhook-Topic"
	HeaderWebhookID    = "X-Webhook-Id"
	HeaderWebhookHMAC  = "X-Webhook-Hmac-Sha256"

	maxWebhookBodyBytes = 1 << 20
)

// HandleWebhook admits a platform event. The body is read raw so the HMAC is
// computed over the exact bytes received.
func (s *Server) HandleWebhook(c *gin.Context) {
	topic := strings.TrimSpace(c.GetHeader(HeaderWebhookTopic))
	if topic == "" {
		topic = strings.Trim(c.Param("topic"), "/")
	}
	c.Set("webhook_topic", topic)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, webhook.ErrInvalidPayload)
		return
	}

	merchantID := strings.TrimSpace(c.GetHeader(HeaderShopDomain))
	ctx := obscontext.WithMerchantID(c.Request.Context(), strings.ToLower(merchantID))

	result, err := s.webhooks.Ingest(ctx, webhook.Request{
		Topic:          topic,
		MerchantID:     merchantID,
		IdempotencyKey: c.GetHeader(HeaderWebhookID),
		Signature:      c.GetHeader(HeaderWebhookHMAC),
		Body:           body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
