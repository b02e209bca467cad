package service

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/orderguard/internal/config"
	"github.com/smallbiznis/orderguard/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"github.com/smallbiznis/orderguard/internal/providers/geoip"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.RiskConfigProvider
	Geo      geoip.Locator
	Accounts riskdomain.FlaggedAccounts
	Metrics  *metrics.Metrics `optional:"true"`
}

// Engine scores orders with a fixed rule set.
type Engine struct {
	log      *zap.Logger
	cfg      config.RiskConfigProvider
	geo      geoip.Locator
	accounts riskdomain.FlaggedAccounts
	metrics  *metrics.Metrics
}

func New(p Params) *Engine {
	return &Engine{
		log:      p.Log.Named("risk.engine"),
		cfg:      p.Config,
		geo:      p.Geo,
		accounts: p.Accounts,
		metrics:  p.Metrics,
	}
}

func (e *Engine) Score(ctx context.Context, in riskdomain.Input) riskdomain.Result {
	cfg := e.cfg.Get()
	account := platformdomain.AccountNumber(in.Transactions)

	if res, ok := platformOverride(in.Assessment, cfg); ok {
		res.AccountNumber = account
		e.record(ctx, res)
		return res
	}

	var facts []platformdomain.RiskFact
	if in.Assessment != nil {
		facts = in.Assessment.Facts
	}

	hits := []*hit{
		e.ipCountryMismatch(ctx, in),
		failedPayments(in.Transactions),
		multipleCards(in.Transactions),
		distance(facts, cfg.DistanceThresholdKM),
		proxyUse(facts, cfg.ProxyKeywords),
	}

	res := riskdomain.Result{Reasons: []string{}, AccountNumber: account}
	for _, h := range hits {
		if h == nil {
			continue
		}
		res.Score++
		res.Reasons = append(res.Reasons, h.reason)
		res.Rules = append(res.Rules, h.code)
	}

	switch {
	case res.Score < cfg.MediumThreshold:
		res.Risk = riskdomain.LevelLow
		if e.pastFraud(ctx, in, account) {
			res.Risk = riskdomain.LevelMedium
			res.Score = cfg.MediumThreshold
			res.Reasons = append(res.Reasons, riskdomain.ReasonPastFraud)
			res.Rules = append(res.Rules, riskdomain.RulePastFraud)
		}
	case res.Score < cfg.HighThreshold:
		res.Risk = riskdomain.LevelMedium
	default:
		res.Risk = riskdomain.LevelHigh
	}

	e.record(ctx, res)
	return res
}

func platformOverride(assessment *platformdomain.RiskAssessment, cfg config.RiskConfig) (riskdomain.Result, bool) {
	if assessment == nil {
		return riskdomain.Result{}, false
	}

	var res riskdomain.Result
	switch platformdomain.RiskLevel(strings.ToUpper(string(assessment.RiskLevel))) {
	case platformdomain.RiskLevelHigh:
		res = riskdomain.Result{Risk: riskdomain.LevelHigh, Score: cfg.HighThreshold}
	case platformdomain.RiskLevelMedium:
		res = riskdomain.Result{Risk: riskdomain.LevelMedium, Score: cfg.MediumThreshold}
	default:
		return riskdomain.Result{}, false
	}

	level := strings.ToUpper(string(assessment.RiskLevel))
	res.Override = true
	res.Reasons = []string{"platform risk level " + level}
	res.Rules = []string{slug.Make("platform " + level)}
	for _, fact := range assessment.Facts {
		if fact.Sentiment == platformdomain.SentimentNegative && strings.TrimSpace(fact.Description) != "" {
			res.Reasons = append(res.Reasons, strings.TrimSpace(fact.Description))
		}
	}
	return res, true
}

func (e *Engine) pastFraud(ctx context.Context, in riskdomain.Input, account string) bool {
	if account == "" || e.accounts == nil {
		return false
	}
	flagged, err := e.accounts.HasFlaggedAccount(ctx, in.MerchantID, account, in.Order.ID)
	if err != nil {
		e.log.Warn("flagged account lookup failed, skipping history rule",
			zap.String("merchant_id", in.MerchantID),
			zap.Int64("order_id", in.Order.ID),
			zap.Error(err),
		)
		return false
	}
	return flagged
}

func (e *Engine) record(ctx context.Context, res riskdomain.Result) {
	for _, code := range res.Rules {
		e.metrics.RecordRiskRule(ctx, code)
	}
}
