package orchestrator

import (
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
)

// AssignTier picks the verification tier of a flagged order. Tier 1 is a
// medium-risk order worth at most tier1Max in the base currency; every other
// flagged order is tier 2, including orders whose value could not be
// normalized.
func AssignTier(risk riskdomain.Level, value float64, normalized bool, tier1Max float64) int {
	switch risk {
	case riskdomain.LevelMedium:
		if normalized && value <= tier1Max {
			return guarddomain.Tier1
		}
		return guarddomain.Tier2
	case riskdomain.LevelHigh:
		return guarddomain.Tier2
	default:
		return guarddomain.TierNone
	}
}
