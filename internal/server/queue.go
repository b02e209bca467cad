package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orderguard/internal/observability/context"
	"github.com/smallbiznis/orderguard/internal/observability/logger"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"go.uber.org/zap"
)

type processResponse struct {
	MerchantID string `json:"merchant_id"`
	Claimed    int    `json:"claimed"`
	Completed  int    `json:"completed"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Backlog    int64  `json:"backlog"`
	Retriggers bool   `json:"retriggers"`
}

func newProcessResponse(r queuedomain.BatchResult) processResponse {
	return processResponse{
		MerchantID: r.MerchantID,
		Claimed:    r.Claimed,
		Completed:  r.Completed,
		Retried:    r.Retried,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Backlog:    r.Backlog,
		Retriggers: r.Retriggers,
	}
}

// ProcessMerchantQueue drains one batch of a merchant's queue synchronously.
func (s *Server) ProcessMerchantQueue(c *gin.Context) {
	merchantID := strings.ToLower(strings.TrimSpace(c.Param("merchant_id")))
	if merchantID == "" {
		AbortWithError(c, queuedomain.ErrInvalidMerchant)
		return
	}
	ctx := obscontext.WithMerchantID(c.Request.Context(), merchantID)

	result, err := s.drainer.Process(ctx, merchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newProcessResponse(result)})
}

// SweepQueues fans out a drain to every merchant with backlog.
func (s *Server) SweepQueues(c *gin.Context) {
	if s.sweeper == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	result, err := s.sweeper.Sweep(c.Request.Context())
	if err != nil && result.Merchants == 0 {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		// Per-merchant failures are joined; the counts still describe the run.
		logger.FromContext(c.Request.Context()).Warn("queue sweep finished with errors", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"data": result, "errors": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
