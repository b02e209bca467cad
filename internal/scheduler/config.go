package scheduler

import (
	"time"

	"github.com/smallbiznis/orderguard/internal/config"
)

// Config controls scheduler cadence and sweep fan-out.
type Config struct {
	RunInterval        time.Duration
	SweepConcurrency   int
	CompletedRetention time.Duration
	StaleAfter         time.Duration
	JobTimeout         time.Duration
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        30 * time.Second,
		SweepConcurrency:   8,
		CompletedRetention: 7 * 24 * time.Hour,
		StaleAfter:         10 * time.Minute,
		JobTimeout:         2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:        cfg.Scheduler.TickInterval,
		SweepConcurrency:   cfg.Scheduler.SweepConcurrency,
		CompletedRetention: cfg.Scheduler.CompletedRetention,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = defaults.SweepConcurrency
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = defaults.CompletedRetention
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
