package binlookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryForBIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/424242":
			assert.Equal(t, "3", r.Header.Get("Accept-Version"))
			_, _ = w.Write([]byte(`{"country":{"alpha2":"gb"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res := New(config.Config{Lookups: config.LookupConfig{BINListURL: srv.URL, Timeout: time.Second}})

	country, err := res.CountryForBIN(context.Background(), "4242 42")
	require.NoError(t, err)
	assert.Equal(t, "GB", country)

	_, err = res.CountryForBIN(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrUnknownBIN)

	_, err = res.CountryForBIN(context.Background(), "42")
	assert.ErrorIs(t, err, ErrUnknownBIN)
}
