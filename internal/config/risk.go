package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RiskConfig holds the tunable numbers of the scoring and verification flow.
type RiskConfig struct {
	MediumThreshold      int           `mapstructure:"mediumThreshold"`
	HighThreshold        int           `mapstructure:"highThreshold"`
	MaxVerifyAttempts    int           `mapstructure:"maxVerifyAttempts"`
	EmailResendCooldown  time.Duration `mapstructure:"emailResendCooldown"`
	VerificationTokenTTL time.Duration `mapstructure:"verificationTokenTTL"`
	DistanceThresholdKM  float64       `mapstructure:"distanceThresholdKm"`
	ProxyKeywords        []string      `mapstructure:"proxyKeywords"`
	Tier1MaxValue        float64       `mapstructure:"tier1MaxValue"`
	BaseCurrency         string        `mapstructure:"baseCurrency"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MediumThreshold:      2,
		HighThreshold:        4,
		MaxVerifyAttempts:    3,
		EmailResendCooldown:  time.Hour,
		VerificationTokenTTL: 7 * 24 * time.Hour,
		DistanceThresholdKM:  349,
		ProxyKeywords:        []string{"proxy", "anonymous", "anonymizing", "anonymising", "tor exit"},
		Tier1MaxValue:        300,
		BaseCurrency:         "USD",
	}
}

// RiskConfigProvider exposes the current risk configuration.
type RiskConfigProvider interface {
	Get() RiskConfig
}

// StaticRiskConfig is a fixed RiskConfigProvider, mostly for tests.
type StaticRiskConfig RiskConfig

func (s StaticRiskConfig) Get() RiskConfig { return RiskConfig(s) }

type RiskConfigHolder struct {
	current atomic.Value // holds RiskConfig
}

func NewRiskConfigHolder(log *zap.Logger) (*RiskConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("risk")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/orderguard/config")
	v.AddConfigPath("/etc/orderguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORDERGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRiskConfig()
	v.SetDefault("risk.mediumThreshold", defaults.MediumThreshold)
	v.SetDefault("risk.highThreshold", defaults.HighThreshold)
	v.SetDefault("risk.maxVerifyAttempts", defaults.MaxVerifyAttempts)
	v.SetDefault("risk.emailResendCooldown", defaults.EmailResendCooldown)
	v.SetDefault("risk.verificationTokenTTL", defaults.VerificationTokenTTL)
	v.SetDefault("risk.distanceThresholdKm", defaults.DistanceThresholdKM)
	v.SetDefault("risk.proxyKeywords", defaults.ProxyKeywords)
	v.SetDefault("risk.tier1MaxValue", defaults.Tier1MaxValue)
	v.SetDefault("risk.baseCurrency", defaults.BaseCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg RiskConfig
	if err := v.UnmarshalKey("risk", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateRiskConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RiskConfigHolder{}
	holder.current.Store(cfg)

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.risk")

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated RiskConfig
			if err := v.UnmarshalKey("risk", &updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := ValidateRiskConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *RiskConfigHolder) Get() RiskConfig {
	return h.current.Load().(RiskConfig)
}

func ValidateRiskConfig(cfg RiskConfig) error {
	if cfg.MediumThreshold <= 0 {
		return errors.New("risk.mediumThreshold must be positive")
	}
	if cfg.HighThreshold <= cfg.MediumThreshold {
		return errors.New("risk.highThreshold must be greater than risk.mediumThreshold")
	}
	if cfg.MaxVerifyAttempts <= 0 {
		return errors.New("risk.maxVerifyAttempts must be positive")
	}
	if cfg.EmailResendCooldown < 0 {
		return errors.New("risk.emailResendCooldown cannot be negative")
	}
	if cfg.VerificationTokenTTL <= 0 {
		return errors.New("risk.verificationTokenTTL must be positive")
	}
	if cfg.Tier1MaxValue <= 0 {
		return errors.New("risk.tier1MaxValue must be positive")
	}
	if strings.TrimSpace(cfg.BaseCurrency) == "" {
		return errors.New("risk.baseCurrency cannot be empty")
	}
	return nil
}
