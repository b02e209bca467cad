package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RiskSettings is a merchant's flagging and automation policy.
type RiskSettings struct {
	MerchantID           string    `gorm:"column:merchant_id;type:varchar(255);primaryKey" json:"merchant_id"`
	FlagHighRisk         bool      `gorm:"column:flag_high_risk;not null" json:"flag_high_risk"`
	FlagMediumRisk       bool      `gorm:"column:flag_medium_risk;not null" json:"flag_medium_risk"`
	EmailHighRisk        bool      `gorm:"column:email_high_risk;not null" json:"email_high_risk"`
	EmailMediumRisk      bool      `gorm:"column:email_medium_risk;not null" json:"email_medium_risk"`
	AutoCancelHighRisk   bool      `gorm:"column:auto_cancel_high_risk;not null" json:"auto_cancel_high_risk"`
	AutoCancelUnverified bool      `gorm:"column:auto_cancel_unverified;not null" json:"auto_cancel_unverified"`
	AutoApproveVerified  bool      `gorm:"column:auto_approve_verified;not null" json:"auto_approve_verified"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (RiskSettings) TableName() string { return "risk_settings" }

// Defaults applies to merchants that never saved settings.
func Defaults(merchantID string) RiskSettings {
	return RiskSettings{
		MerchantID:      merchantID,
		FlagHighRisk:    true,
		FlagMediumRisk:  true,
		EmailHighRisk:   true,
		EmailMediumRisk: true,
	}
}

// ShouldFlag reports whether a risk level ("high", "medium", "low") is held.
func (s RiskSettings) ShouldFlag(risk string) bool {
	switch risk {
	case "high":
		return s.FlagHighRisk
	case "medium":
		return s.FlagMediumRisk
	default:
		return false
	}
}

// ShouldEmail reports whether a flagged order of this risk gets a
// verification email.
func (s RiskSettings) ShouldEmail(risk string) bool {
	switch risk {
	case "high":
		return s.EmailHighRisk
	case "medium":
		return s.EmailMediumRisk
	default:
		return false
	}
}

// UpdateRequest is a partial update; nil fields keep their value.
type UpdateRequest struct {
	FlagHighRisk         *bool `json:"flag_high_risk"`
	FlagMediumRisk       *bool `json:"flag_medium_risk"`
	EmailHighRisk        *bool `json:"email_high_risk"`
	EmailMediumRisk      *bool `json:"email_medium_risk"`
	AutoCancelHighRisk   *bool `json:"auto_cancel_high_risk"`
	AutoCancelUnverified *bool `json:"auto_cancel_unverified"`
	AutoApproveVerified  *bool `json:"auto_approve_verified"`
}

var ErrInvalidMerchant = errors.New("invalid_merchant")

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, merchantID string) (*RiskSettings, error)
	Upsert(ctx context.Context, db *gorm.DB, settings *RiskSettings) error
}

type Service interface {
	Get(ctx context.Context, merchantID string) (RiskSettings, error)
	Update(ctx context.Context, merchantID string, req UpdateRequest) (RiskSettings, error)
}
