package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/smallbiznis/orderguard/internal/platform/domain"
	"go.uber.org/zap"
)

const merchantPlaceholder = "{merchant}"

type errorResponse struct {
	Errors json.RawMessage `json:"errors"`
}

type httpClient struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	client      *http.Client
	log         *zap.Logger
}

// New builds the REST client. A "{merchant}" placeholder in the base URL is
// replaced by the merchant id (shop domain) on every call.
func New(cfg config.Config, log *zap.Logger) domain.Client {
	timeout := cfg.Platform.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.Platform.BaseURL), "/"),
		accessToken: strings.TrimSpace(cfg.Platform.AccessToken),
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout + time.Second},
		log:         log.Named("platform.client"),
	}
}

func (c *httpClient) ListTransactions(ctx context.Context, merchantID string, orderID int64) ([]domain.Transaction, error) {
	var out struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, merchantID, orderPath(orderID, "transactions.json"), nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *httpClient) GetRiskAssessment(ctx context.Context, merchantID string, orderID int64) (*domain.RiskAssessment, error) {
	var out struct {
		RiskAssessment *domain.RiskAssessment `json:"risk_assessment"`
	}
	if err := c.do(ctx, http.MethodGet, merchantID, orderPath(orderID, "risk_assessment.json"), nil, &out); err != nil {
		return nil, err
	}
	return out.RiskAssessment, nil
}

func (c *httpClient) AddTags(ctx context.Context, merchantID string, orderID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	body := map[string]any{"tags": tags}
	return c.do(ctx, http.MethodPost, merchantID, orderPath(orderID, "tags/add.json"), body, nil)
}

func (c *httpClient) RemoveTags(ctx context.Context, merchantID string, orderID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	body := map[string]any{"tags": tags}
	return c.do(ctx, http.MethodPost, merchantID, orderPath(orderID, "tags/remove.json"), body, nil)
}

func (c *httpClient) Capture(ctx context.Context, merchantID string, orderID int64, amount, currency string) (*domain.Transaction, error) {
	body := map[string]any{
		"transaction": map[string]any{
			"kind":     domain.TransactionKindCapture,
			"amount":   amount,
			"currency": currency,
		},
	}
	var out struct {
		Transaction *domain.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, merchantID, orderPath(orderID, "transactions.json"), body, &out); err != nil {
		return nil, err
	}
	if out.Transaction == nil {
		return nil, fmt.Errorf("%w: empty capture response", domain.ErrTransactionFailed)
	}
	if out.Transaction.IsFailed() {
		return out.Transaction, fmt.Errorf("%w: capture %s", domain.ErrTransactionFailed, out.Transaction.ErrorCode)
	}
	return out.Transaction, nil
}

func (c *httpClient) Cancel(ctx context.Context, merchantID string, orderID int64, reason string) (*domain.Transaction, error) {
	body := map[string]any{"reason": reason}
	var out struct {
		Transaction *domain.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, merchantID, orderPath(orderID, "cancel.json"), body, &out); err != nil {
		return nil, err
	}
	if out.Transaction != nil && out.Transaction.IsFailed() {
		return out.Transaction, fmt.Errorf("%w: cancel %s", domain.ErrTransactionFailed, out.Transaction.ErrorCode)
	}
	return out.Transaction, nil
}

func (c *httpClient) do(ctx context.Context, method, merchantID, path string, body any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base url not configured", domain.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.urlFor(merchantID)+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Merchant-Id", merchantID)
	if c.accessToken != "" {
		req.Header.Set("X-Access-Token", c.accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(resp, merchantID, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

func (c *httpClient) statusError(resp *http.Response, merchantID, path string) error {
	var payload errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	message := strings.TrimSpace(string(payload.Errors))

	c.log.Warn("platform request failed",
		zap.String("merchant_id", merchantID),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrOrderNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d %s", domain.ErrTransactionFailed, resp.StatusCode, message)
	}
}

func (c *httpClient) urlFor(merchantID string) string {
	if strings.Contains(c.baseURL, merchantPlaceholder) {
		return strings.ReplaceAll(c.baseURL, merchantPlaceholder, merchantID)
	}
	return c.baseURL
}

func orderPath(orderID int64, suffix string) string {
	return "/orders/" + strconv.FormatInt(orderID, 10) + "/" + suffix
}
