package scheduler

import "time"

// Config controls watchdog intervals and thresholds.
type Config struct {
	RunInterval    time.Duration
	StuckThreshold time.Duration
	BatchSize      int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		StuckThreshold: 10 * time.Minute,
		BatchSize:      100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = defaults.StuckThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}
