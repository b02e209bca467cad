package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/orderguard/internal/cache"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUnsupportedCurrency = errors.New("unsupported_currency")

const (
	dayLayout = "2006-01-02"
	ratesTTL  = 24 * time.Hour
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Risk   config.RiskConfigProvider
	Source RateSource
}

// Converter normalizes order values into the base currency using the day's
// rates table.
type Converter struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	risk   config.RiskConfigProvider
	source RateSource
	rates  cache.Cache[string, map[string]float64]
}

func NewConverter(p Params) *Converter {
	return &Converter{
		db:     p.DB,
		log:    p.Log.Named("currency.converter"),
		clock:  p.Clock,
		risk:   p.Risk,
		source: p.Source,
		rates:  cache.NewTTLCacheWithClock[string, map[string]float64](p.Clock.Now),
	}
}

// ToBase converts amount from currency into the configured base currency.
func (c *Converter) ToBase(ctx context.Context, amount float64, currency string) (float64, error) {
	from := normalizeCode(currency)
	base := normalizeCode(c.risk.Get().BaseCurrency)
	if from == "" {
		return 0, ErrUnsupportedCurrency
	}
	if from == base {
		return amount, nil
	}

	rates, err := c.ratesFor(ctx, c.clock.Now().UTC().Format(dayLayout))
	if err != nil {
		return 0, err
	}
	fromRate, ok := rates[from]
	if !ok || fromRate <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	baseRate, ok := rates[base]
	if !ok || baseRate <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, base)
	}
	return amount / fromRate * baseRate, nil
}

func (c *Converter) ratesFor(ctx context.Context, day string) (map[string]float64, error) {
	if rates, ok := c.rates.Get(day); ok {
		return rates, nil
	}

	var rows []ExchangeRate
	if err := c.db.WithContext(ctx).Where("rate_date = ?", day).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}
	if len(rows) == 0 {
		refreshed, err := c.refresh(ctx, day)
		if err != nil {
			return nil, err
		}
		rows = refreshed
	}

	rates := make(map[string]float64, len(rows))
	for _, row := range rows {
		rates[row.Currency] = row.UnitsPerUSD
	}
	c.rates.Set(day, rates, ratesTTL)
	return rates, nil
}

func (c *Converter) refresh(ctx context.Context, day string) ([]ExchangeRate, error) {
	parsed, err := time.Parse(dayLayout, day)
	if err != nil {
		return nil, err
	}
	fetched, err := c.source.Rates(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rates: %w", err)
	}

	now := c.clock.Now()
	rows := make([]ExchangeRate, 0, len(fetched))
	for code, rate := range fetched {
		rows = append(rows, ExchangeRate{
			RateDate:    day,
			Currency:    normalizeCode(code),
			UnitsPerUSD: rate,
			Source:      c.source.Name(),
			CreatedAt:   now,
		})
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("store exchange rates: %w", err)
	}
	c.log.Info("exchange rates refreshed", zap.String("day", day), zap.String("source", c.source.Name()), zap.Int("currencies", len(rows)))
	return rows, nil
}
