package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/orderguard/internal/cache"
	"github.com/smallbiznis/orderguard/internal/config"
)

var (
	ErrLookupFailed = errors.New("geoip_lookup_failed")
	ErrInvalidIP    = errors.New("geoip_invalid_ip")
)

const countryTTL = time.Hour

// Locator resolves an IP address to an ISO 3166-1 alpha-2 country code.
type Locator interface {
	CountryForIP(ctx context.Context, ip string) (string, error)
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
}

type httpLocator struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	cache   cache.Cache[string, string]
}

// New returns an ip-api compatible locator with a per-call timeout.
func New(cfg config.Config) Locator {
	timeout := cfg.Lookups.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpLocator{
		baseURL: strings.TrimRight(cfg.Lookups.GeoIPURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout + time.Second},
		cache:   cache.NewTTLCache[string, string](),
	}
}

func (l *httpLocator) CountryForIP(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", ErrInvalidIP
	}
	if country, ok := l.cache.Get(ip); ok {
		return country, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	endpoint := l.baseURL + "/" + url.PathEscape(ip) + "?fields=status,message,countryCode"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}
	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if !strings.EqualFold(body.Status, "success") || body.CountryCode == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidIP, body.Message)
	}

	country := strings.ToUpper(body.CountryCode)
	l.cache.Set(ip, country, countryTTL)
	return country, nil
}
