package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	obscontext "github.com/smallbiznis/orderguard/internal/observability/context"
	"github.com/smallbiznis/orderguard/internal/observability/logger"
	"github.com/smallbiznis/orderguard/internal/ratelimit"
	"go.uber.org/zap"
)

type verificationRequest struct {
	Token      string `json:"token"`
	Last4      string `json:"last4"`
	Zip        string `json:"zip"`
	BINCountry string `json:"bin_country"`
}

// SubmitVerification checks a customer's answers against the held order.
// The credential comes from the Authorization header, or from the body for
// pages that only have the link's token.
func (s *Server) SubmitVerification(c *gin.Context) {
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	raw, ok := bearerToken(c)
	if !ok {
		raw = strings.TrimSpace(req.Token)
	}
	if raw == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	claims, err := s.credentials.Parse(raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := obscontext.WithMerchantID(c.Request.Context(), claims.MerchantID)
	c.Request = c.Request.WithContext(ctx)

	if !s.allowSubmission(ctx, c, claims.RateKey()) {
		return
	}

	policy, err := s.settingsSvc.Get(ctx, claims.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.guardSvc.SubmitVerification(ctx, guarddomain.VerificationRequest{
		MerchantID: claims.MerchantID,
		OrderID:    claims.OrderID,
		Contact:    claims.Contact,
		Last4:      strings.TrimSpace(req.Last4),
		Zip:        strings.TrimSpace(req.Zip),
		BINCountry: strings.TrimSpace(req.BINCountry),
	}, policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// allowSubmission applies the per-credential token bucket. A limiter outage
// lets the request through; the attempt counter still bounds guessing.
func (s *Server) allowSubmission(ctx context.Context, c *gin.Context, subject string) bool {
	if s.limiter == nil || !s.limiter.Enabled() {
		return true
	}

	res, err := s.limiter.Allow(ctx, subject)
	if err != nil {
		logger.FromContext(ctx).Warn("verification rate limit check failed", zap.Error(err))
		return true
	}
	if res == nil || res.Allowed {
		return true
	}

	setRateLimitHeaders(c, res)
	s.obsMetrics.RecordVerification(ctx, "rate_limited")
	logger.FromContext(ctx).Info("verification rate limit exceeded")
	AbortWithError(c, ErrRateLimited)
	return false
}

func setRateLimitHeaders(c *gin.Context, res *ratelimit.Allowance) {
	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	if res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	if !res.ResetTime.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
	}
}
