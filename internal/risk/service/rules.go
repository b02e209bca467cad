package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	"go.uber.org/zap"
)

const (
	failedPaymentThreshold = 3
	distinctCardThreshold  = 2
	kmPerMile              = 1.60934
)

var distancePattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(kilomet(?:er|re)s?|km|miles?|mi)\b`)

type hit struct {
	code   string
	reason string
}

func (e *Engine) ipCountryMismatch(ctx context.Context, in riskdomain.Input) *hit {
	ip := in.Order.IP()
	if ip == "" || in.Order.BillingAddress == nil {
		return nil
	}
	billing := strings.ToUpper(strings.TrimSpace(in.Order.BillingAddress.CountryCode))
	if billing == "" {
		return nil
	}

	country, err := e.geo.CountryForIP(ctx, ip)
	if err != nil {
		e.log.Warn("geolocation unavailable, skipping ip country rule",
			zap.String("merchant_id", in.MerchantID),
			zap.Int64("order_id", in.Order.ID),
			zap.Error(err),
		)
		return nil
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" || country == billing {
		return nil
	}
	return &hit{
		code:   riskdomain.RuleIPCountryMismatch,
		reason: fmt.Sprintf("IP address is located in %s but the billing address is in %s", country, billing),
	}
}

func failedPayments(transactions []platformdomain.Transaction) *hit {
	failed := 0
	for _, txn := range transactions {
		if txn.IsFailed() {
			failed++
		}
	}
	if failed < failedPaymentThreshold {
		return nil
	}
	return &hit{
		code:   riskdomain.RuleFailedPayments,
		reason: fmt.Sprintf("%d failed payment attempts", failed),
	}
}

func multipleCards(transactions []platformdomain.Transaction) *hit {
	cards := make(map[string]struct{})
	for _, txn := range transactions {
		if fp := txn.PaymentDetails.Fingerprint(); fp != "" {
			cards[fp] = struct{}{}
		}
	}
	if len(cards) < distinctCardThreshold {
		return nil
	}
	return &hit{
		code:   riskdomain.RuleMultipleCards,
		reason: fmt.Sprintf("%d different cards were used", len(cards)),
	}
}

func distance(facts []platformdomain.RiskFact, thresholdKM float64) *hit {
	for _, fact := range facts {
		km, ok := parseDistanceKM(fact.Description)
		if !ok || km <= thresholdKM {
			continue
		}
		return &hit{
			code:   riskdomain.RuleDistance,
			reason: fmt.Sprintf("shipping address is %.0f km from the IP location", km),
		}
	}
	return nil
}

// parseDistanceKM extracts the first distance in text, normalised to km.
func parseDistanceKM(text string) (float64, bool) {
	match := distancePattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(match[2])
	if strings.HasPrefix(unit, "mi") {
		value *= kmPerMile
	}
	return value, true
}

func proxyUse(facts []platformdomain.RiskFact, keywords []string) *hit {
	for _, fact := range facts {
		if fact.Sentiment != platformdomain.SentimentNegative {
			continue
		}
		text := strings.ToLower(fact.Description)
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				return &hit{
					code:   riskdomain.RuleProxy,
					reason: "order was placed through an anonymizing proxy",
				}
			}
		}
	}
	return nil
}
