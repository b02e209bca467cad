package domain

import "strings"

const TagPrefix = "orderguard-"

// RiskTag names the merchant-visible risk tag, e.g. orderguard-high-risk.
func RiskTag(risk string) string {
	risk = strings.ToLower(strings.TrimSpace(risk))
	if risk == "" {
		return ""
	}
	return TagPrefix + risk + "-risk"
}

// VerificationTag names the tag for a guard status. The paid overlay keeps
// the current tag.
func VerificationTag(status Status, current string) string {
	switch status {
	case StatusPending:
		return TagPrefix + "pending"
	case StatusVerified:
		return TagPrefix + "verified"
	case StatusUnverified:
		return TagPrefix + "unverified"
	case StatusCaptured:
		return TagPrefix + "captured"
	case StatusCancelled:
		return TagPrefix + "cancelled"
	default:
		return current
	}
}

// AllRiskTags and AllVerificationTags list every tag the guard may set.
func AllRiskTags() []string {
	return []string{RiskTag("low"), RiskTag("medium"), RiskTag("high")}
}

func AllVerificationTags() []string {
	return []string{
		VerificationTag(StatusPending, ""),
		VerificationTag(StatusVerified, ""),
		VerificationTag(StatusUnverified, ""),
		VerificationTag(StatusCaptured, ""),
		VerificationTag(StatusCancelled, ""),
	}
}
