package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/orderguard/internal/config"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type locatorMock struct {
	mock.Mock
}

func (m *locatorMock) CountryForIP(ctx context.Context, ip string) (string, error) {
	args := m.Called(ctx, ip)
	return args.String(0), args.Error(1)
}

type accountsMock struct {
	mock.Mock
}

func (m *accountsMock) HasFlaggedAccount(ctx context.Context, merchantID, account string, excludeOrderID int64) (bool, error) {
	args := m.Called(ctx, merchantID, account, excludeOrderID)
	return args.Bool(0), args.Error(1)
}

func newEngine(geo *locatorMock, accounts *accountsMock) *Engine {
	return New(Params{
		Log:      zap.NewNop(),
		Config:   config.StaticRiskConfig(config.DefaultRiskConfig()),
		Geo:      geo,
		Accounts: accounts,
	})
}

func baseOrder() platformdomain.Order {
	return platformdomain.Order{
		ID:             1001,
		BrowserIP:      "203.0.113.9",
		TotalPrice:     "120.00",
		Currency:       "USD",
		BillingAddress: &platformdomain.Address{CountryCode: "US", Zip: "10001"},
	}
}

func card(bin, number, status string) platformdomain.Transaction {
	return platformdomain.Transaction{
		Status: status,
		PaymentDetails: &platformdomain.PaymentDetails{
			CreditCardBIN:    bin,
			CreditCardNumber: number,
		},
	}
}

func TestScoreZeroIsLow(t *testing.T) {
	geo := &locatorMock{}
	geo.On("CountryForIP", mock.Anything, "203.0.113.9").Return("US", nil)
	accounts := &accountsMock{}
	accounts.On("HasFlaggedAccount", mock.Anything, "shop-1", "424242...4242", int64(1001)).Return(false, nil)

	res := newEngine(geo, accounts).Score(context.Background(), riskdomain.Input{
		MerchantID:   "shop-1",
		Order:        baseOrder(),
		Transactions: []platformdomain.Transaction{card("424242", "•••• 4242", "success")},
	})

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, riskdomain.LevelLow, res.Risk)
	assert.Empty(t, res.Reasons)
	accounts.AssertExpectations(t)
}

func TestFailedPaymentsAndMultipleCardsReachMedium(t *testing.T) {
	geo := &locatorMock{}
	geo.On("CountryForIP", mock.Anything, mock.Anything).Return("US", nil)

	res := newEngine(geo, &accountsMock{}).Score(context.Background(), riskdomain.Input{
		MerchantID: "shop-1",
		Order:      baseOrder(),
		Transactions: []platformdomain.Transaction{
			card("424242", "•••• 4242", "failure"),
			card("555555", "•••• 4444", "failure"),
			card("424242", "•••• 4242", "error"),
		},
	})

	assert.GreaterOrEqual(t, res.Score, 2)
	assert.Equal(t, riskdomain.LevelMedium, res.Risk)
	assert.Contains(t, res.Rules, riskdomain.RuleFailedPayments)
	assert.Contains(t, res.Rules, riskdomain.RuleMultipleCards)
}

func TestAllRulesReachHigh(t *testing.T) {
	geo := &locatorMock{}
	geo.On("CountryForIP", mock.Anything, mock.Anything).Return("NL", nil)

	res := newEngine(geo, &accountsMock{}).Score(context.Background(), riskdomain.Input{
		MerchantID: "shop-1",
		Order:      baseOrder(),
		Assessment: &platformdomain.RiskAssessment{
			RiskLevel: platformdomain.RiskLevelLow,
			Facts: []platformdomain.RiskFact{
				{Description: "Shipping address is 1,200 miles from the IP location", Sentiment: platformdomain.SentimentNegative},
				{Description: "Customer used an anonymous proxy", Sentiment: platformdomain.SentimentNegative},
			},
		},
		Transactions: []platformdomain.Transaction{
			card("424242", "•••• 4242", "failure"),
			card("555555", "•••• 4444", "failure"),
			card("411111", "•••• 1111", "failure"),
		},
	})

	assert.Equal(t, 5, res.Score)
	assert.Equal(t, riskdomain.LevelHigh, res.Risk)
	assert.Len(t, res.Reasons, 5)
	assert.False(t, res.Override)
}

func TestPastFraudForcesMedium(t *testing.T) {
	geo := &locatorMock{}
	geo.On("CountryForIP", mock.Anything, mock.Anything).Return("US", nil)
	accounts := &accountsMock{}
	accounts.On("HasFlaggedAccount", mock.Anything, "shop-1", "424242...4242", int64(1001)).Return(true, nil)

	res := newEngine(geo, accounts).Score(context.Background(), riskdomain.Input{
		MerchantID:   "shop-1",
		Order:        baseOrder(),
		Transactions: []platformdomain.Transaction{card("424242", "•••• 4242", "success")},
	})

	assert.Equal(t, riskdomain.LevelMedium, res.Risk)
	assert.Equal(t, config.DefaultRiskConfig().MediumThreshold, res.Score)
	assert.Contains(t, res.Reasons, riskdomain.ReasonPastFraud)
}

func TestPlatformOverrideWinsImmediately(t *testing.T) {
	geo := &locatorMock{}
	accounts := &accountsMock{}

	res := newEngine(geo, accounts).Score(context.Background(), riskdomain.Input{
		MerchantID: "shop-1",
		Order:      baseOrder(),
		Assessment: &platformdomain.RiskAssessment{
			RiskLevel: platformdomain.RiskLevelHigh,
			Facts: []platformdomain.RiskFact{
				{Description: "Card was declined 7 times", Sentiment: platformdomain.SentimentNegative},
				{Description: "Billing matches shipping", Sentiment: platformdomain.SentimentPositive},
			},
		},
	})

	assert.True(t, res.Override)
	assert.Equal(t, riskdomain.LevelHigh, res.Risk)
	assert.Equal(t, []string{"platform risk level HIGH", "Card was declined 7 times"}, res.Reasons)
	assert.Equal(t, []string{"platform-high"}, res.Rules)
	geo.AssertNotCalled(t, "CountryForIP", mock.Anything, mock.Anything)
	accounts.AssertNotCalled(t, "HasFlaggedAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFailingLookupsDegradeOnlyTheirRule(t *testing.T) {
	geo := &locatorMock{}
	geo.On("CountryForIP", mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	accounts := &accountsMock{}
	accounts.On("HasFlaggedAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("db down"))

	res := newEngine(geo, accounts).Score(context.Background(), riskdomain.Input{
		MerchantID: "shop-1",
		Order:      baseOrder(),
		Transactions: []platformdomain.Transaction{
			card("424242", "•••• 4242", "failure"),
			card("424242", "•••• 4242", "failure"),
			card("424242", "•••• 4242", "failure"),
		},
	})

	require.Equal(t, 1, res.Score)
	assert.Equal(t, riskdomain.LevelLow, res.Risk)
	assert.Equal(t, []string{riskdomain.RuleFailedPayments}, res.Rules)
}

func TestParseDistanceKM(t *testing.T) {
	cases := []struct {
		text string
		km   float64
		ok   bool
	}{
		{"Shipping address is 350 km from the IP", 350, true},
		{"Distance of 1,000 miles between shipping and IP", 1609.34, true},
		{"200 kilometres away", 200, true},
		{"Placed 5 minutes after account creation", 0, false},
		{"no distance here", 0, false},
	}
	for _, tc := range cases {
		km, ok := parseDistanceKM(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.InDelta(t, tc.km, km, 0.01, tc.text)
	}
}

func TestDistanceThresholdIsExclusive(t *testing.T) {
	facts := []platformdomain.RiskFact{{Description: "349 km from IP"}}
	assert.Nil(t, distance(facts, 349))

	facts = []platformdomain.RiskFact{{Description: "217 miles from IP"}}
	assert.NotNil(t, distance(facts, 349))
}
