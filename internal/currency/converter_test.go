package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type countingSource struct {
	calls int
	rates map[string]float64
	err   error
}

func (s *countingSource) Name() string { return "test" }

func (s *countingSource) Rates(context.Context, time.Time) (map[string]float64, error) {
	s.calls++
	return s.rates, s.err
}

func newConverter(t *testing.T, base string, src RateSource) (*Converter, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &ExchangeRate{})
	clk := clock.NewFakeClock(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	risk := config.DefaultRiskConfig()
	risk.BaseCurrency = base
	return NewConverter(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Risk:   config.StaticRiskConfig(risk),
		Source: src,
	}), db, clk
}

func TestToBaseConvertsAndCachesDailyRates(t *testing.T) {
	src := &countingSource{rates: map[string]float64{"USD": 1, "EUR": 0.8, "JPY": 150}}
	conv, db, clk := newConverter(t, "USD", src)
	ctx := context.Background()

	value, err := conv.ToBase(ctx, 240, "eur")
	require.NoError(t, err)
	assert.InDelta(t, 300, value, 0.0001)

	value, err = conv.ToBase(ctx, 15000, "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 100, value, 0.0001)
	assert.Equal(t, 1, src.calls)

	var stored int64
	require.NoError(t, db.Model(&ExchangeRate{}).Where("rate_date = ?", "2026-03-09").Count(&stored).Error)
	assert.Equal(t, int64(3), stored)

	clk.Advance(24 * time.Hour)
	_, err = conv.ToBase(ctx, 10, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestToBaseUsesStoredRatesBeforeSource(t *testing.T) {
	src := &countingSource{err: errors.New("source down")}
	conv, db, _ := newConverter(t, "USD", src)
	require.NoError(t, db.Create(&[]ExchangeRate{
		{RateDate: "2026-03-09", Currency: "USD", UnitsPerUSD: 1, Source: "seed"},
		{RateDate: "2026-03-09", Currency: "GBP", UnitsPerUSD: 0.5, Source: "seed"},
	}).Error)

	value, err := conv.ToBase(context.Background(), 50, "GBP")
	require.NoError(t, err)
	assert.InDelta(t, 100, value, 0.0001)
	assert.Equal(t, 0, src.calls)
}

func TestToBaseNonUSDBase(t *testing.T) {
	conv, _, _ := newConverter(t, "EUR", StaticSource{})

	same, err := conv.ToBase(context.Background(), 42, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 42.0, same)

	value, err := conv.ToBase(context.Background(), 100, "USD")
	require.NoError(t, err)
	assert.InDelta(t, 92, value, 0.0001)
}

func TestToBaseUnknownCurrency(t *testing.T) {
	conv, _, _ := newConverter(t, "USD", StaticSource{})

	_, err := conv.ToBase(context.Background(), 10, "XYZ")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = conv.ToBase(context.Background(), 10, "")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestToBaseSourceFailure(t *testing.T) {
	conv, _, _ := newConverter(t, "USD", &countingSource{err: errors.New("timeout")})
	_, err := conv.ToBase(context.Background(), 10, "EUR")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedCurrency)
}
