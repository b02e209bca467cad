package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryForIPCachesResult(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/203.0.113.7", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","countryCode":"de"}`))
	}))
	defer srv.Close()

	loc := New(config.Config{Lookups: config.LookupConfig{GeoIPURL: srv.URL, Timeout: time.Second}})

	country, err := loc.CountryForIP(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "DE", country)

	_, err = loc.CountryForIP(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCountryForIPFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer srv.Close()

	loc := New(config.Config{Lookups: config.LookupConfig{GeoIPURL: srv.URL, Timeout: time.Second}})

	_, err := loc.CountryForIP(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidIP)

	_, err = loc.CountryForIP(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidIP)
}
