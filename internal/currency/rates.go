package currency

import (
	"context"
	"strings"
	"time"
)

// ExchangeRate is one day's rate of a currency, in units per US dollar.
type ExchangeRate struct {
	RateDate    string    `gorm:"column:rate_date;type:varchar(10);primaryKey"`
	Currency    string    `gorm:"column:currency;type:varchar(8);primaryKey"`
	UnitsPerUSD float64   `gorm:"column:units_per_usd;not null"`
	Source      string    `gorm:"column:source;type:varchar(32);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// RateSource supplies the rates of a given day in units per US dollar.
type RateSource interface {
	Name() string
	Rates(ctx context.Context, day time.Time) (map[string]float64, error)
}

// staticRatesPerUSD are approximate reference rates.
var staticRatesPerUSD = map[string]float64{
	"USD": 1.0,
	"EUR": 0.92,
	"GBP": 0.79,
	"CAD": 1.36,
	"AUD": 1.52,
	"NZD": 1.65,
	"CHF": 0.90,
	"SEK": 10.5,
	"NOK": 10.7,
	"DKK": 6.87,
	"JPY": 151.0,
	"SGD": 1.35,
	"HKD": 7.82,
	"INR": 83.3,
	"BRL": 5.05,
	"MXN": 17.1,
	"KES": 129.5,
	"NGN": 1580.0,
	"ZAR": 18.6,
}

type StaticSource struct{}

func (StaticSource) Name() string { return "static" }

func (StaticSource) Rates(context.Context, time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(staticRatesPerUSD))
	for code, rate := range staticRatesPerUSD {
		out[code] = rate
	}
	return out, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
