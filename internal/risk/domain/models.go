package domain

import (
	"context"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

const ReasonPastFraud = "past fraudulent behaviour"

// Rule codes, stable and low cardinality.
const (
	RuleIPCountryMismatch = "ip-country-mismatch"
	RuleFailedPayments    = "failed-payments"
	RuleMultipleCards     = "multiple-cards"
	RuleDistance          = "shipping-ip-distance"
	RuleProxy             = "anonymizing-proxy"
	RulePastFraud         = "past-fraud"
)

// Input is everything the engine scores. Assessment and Transactions may be
// nil when the platform could not be reached; the dependent rules are skipped.
type Input struct {
	MerchantID   string
	Order        platformdomain.Order
	Assessment   *platformdomain.RiskAssessment
	Transactions []platformdomain.Transaction
}

type Result struct {
	Score         int      `json:"score"`
	Reasons       []string `json:"reason"`
	Risk          Level    `json:"risk"`
	Override      bool     `json:"override"`
	Rules         []string `json:"-"`
	AccountNumber string   `json:"-"`
}

// FlaggedAccounts answers whether a card fingerprint was already seen on a
// flagged order of the merchant.
type FlaggedAccounts interface {
	HasFlaggedAccount(ctx context.Context, merchantID, accountNumber string, excludeOrderID int64) (bool, error)
}

type Engine interface {
	Score(ctx context.Context, in Input) Result
}
