package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/authorization"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/orchestrator"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/internal/webhook"
	"github.com/smallbiznis/orderguard/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type              string            `json:"type"`
	Message           string            `json:"message"`
	Errors            []ValidationError `json:"errors,omitempty"`
	RemainingAttempts *int              `json:"remaining_attempts,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var mismatch *guarddomain.MismatchError
	if errors.As(err, &mismatch) && !mismatch.Exhausted {
		remaining := mismatch.Remaining
		return http.StatusUnprocessableEntity, errorPayload{
			Type:              "verification_failed",
			Message:           "the submitted details do not match the order",
			RemainingAttempts: &remaining,
		}
	}

	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "authentication_error",
			Message: "invalid webhook signature",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized),
		errors.Is(err, verification.ErrInvalidToken),
		errors.Is(err, guarddomain.ErrInvalidCredential):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, verification.ErrExpiredToken):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "verification link has expired",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isValidationError(err):
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, guarddomain.ErrOrderClosed),
		errors.Is(err, orchestrator.ErrNoContact):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, guarddomain.ErrAttemptsExhausted):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "attempts_exhausted",
			Message: "no verification attempts remaining",
		}
	case errors.Is(err, orchestrator.ErrEmailCooldown):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "email_cooldown",
			Message: "a verification email was sent recently",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, guarddomain.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "commerce platform unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		code = vErr.Errors[0].Code
	} else if isValidationError(err) {
		code = validationErrorCode(err)
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, webhook.ErrUnknownTopic),
		errors.Is(err, webhook.ErrMissingMerchant),
		errors.Is(err, guarddomain.ErrInvalidRequest),
		errors.Is(err, settingsdomain.ErrInvalidMerchant),
		errors.Is(err, queuedomain.ErrInvalidMerchant),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidRole),
		errors.Is(err, apikeydomain.ErrInvalidKeyID),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, guarddomain.ErrOrderNotFound),
		errors.Is(err, apikeydomain.ErrNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, candidate := range []error{
		ErrInvalidRequest,
		webhook.ErrInvalidPayload,
		webhook.ErrUnknownTopic,
		webhook.ErrMissingMerchant,
		guarddomain.ErrInvalidRequest,
		settingsdomain.ErrInvalidMerchant,
		queuedomain.ErrInvalidMerchant,
		apikeydomain.ErrInvalidName,
		apikeydomain.ErrInvalidRole,
		apikeydomain.ErrInvalidKeyID,
		pagination.ErrInvalidPageToken,
	} {
		if errors.Is(err, candidate) {
			return candidate.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request", "invalid_payload":
		return "request"
	case "unknown_topic":
		return "topic"
	case "missing_merchant", "invalid_merchant":
		return "merchant_id"
	case "invalid_name":
		return "name"
	case "invalid_role":
		return "role"
	case "invalid_key_id":
		return "key_id"
	case "invalid_page_token":
		return "page_token"
	default:
		return ""
	}
}
