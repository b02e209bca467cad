package binlookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/orderguard/internal/cache"
	"github.com/smallbiznis/orderguard/internal/config"
)

var (
	ErrLookupFailed = errors.New("bin_lookup_failed")
	ErrUnknownBIN   = errors.New("bin_unknown")
)

const binTTL = 24 * time.Hour

// Resolver maps a card BIN (first six to eight digits) to its issuing country.
type Resolver interface {
	CountryForBIN(ctx context.Context, bin string) (string, error)
}

type binlistResponse struct {
	Country struct {
		Alpha2 string `json:"alpha2"`
	} `json:"country"`
}

type httpResolver struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	cache   cache.Cache[string, string]
}

// New returns a binlist compatible resolver with a per-call timeout.
func New(cfg config.Config) Resolver {
	timeout := cfg.Lookups.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpResolver{
		baseURL: strings.TrimRight(cfg.Lookups.BINListURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout + time.Second},
		cache:   cache.NewTTLCache[string, string](),
	}
}

func (r *httpResolver) CountryForBIN(ctx context.Context, bin string) (string, error) {
	bin = normalizeBIN(bin)
	if bin == "" {
		return "", ErrUnknownBIN
	}
	if country, ok := r.cache.Get(bin); ok {
		return country, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+bin, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Version", "3")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrUnknownBIN
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body binlistResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	country := strings.ToUpper(strings.TrimSpace(body.Country.Alpha2))
	if country == "" {
		return "", ErrUnknownBIN
	}
	r.cache.Set(bin, country, binTTL)
	return country, nil
}

func normalizeBIN(raw string) string {
	digits := make([]byte, 0, 8)
	for i := 0; i < len(raw) && len(digits) < 8; i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	if len(digits) < 6 {
		return ""
	}
	return string(digits)
}
