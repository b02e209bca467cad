package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	obscontext "github.com/smallbiznis/orderguard/internal/observability/context"
)

const (
	contextAPIKey     = "api_key"
	contextMerchantID = "merchant_id"
)

// APIKeyRequired authenticates operator requests with a bearer API key.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if key == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAPIKey, key)
		ctx := obscontext.WithActor(c.Request.Context(), "api_key", key.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := apiKeyFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), key, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// MerchantContext validates :merchant_id and tags the request context with it.
func (s *Server) MerchantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := strings.ToLower(strings.TrimSpace(c.Param("merchant_id")))
		if merchantID == "" {
			AbortWithError(c, newValidationError("merchant_id", "required", "merchant_id is required"))
			return
		}
		c.Set(contextMerchantID, merchantID)
		ctx := obscontext.WithMerchantID(c.Request.Context(), merchantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func apiKeyFromContext(c *gin.Context) (*apikeydomain.APIKey, bool) {
	value, ok := c.Get(contextAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := value.(*apikeydomain.APIKey)
	return key, ok && key != nil
}

func merchantFromContext(c *gin.Context) string {
	if merchantID := c.GetString(contextMerchantID); merchantID != "" {
		return merchantID
	}
	return strings.ToLower(strings.TrimSpace(c.Param("merchant_id")))
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}
