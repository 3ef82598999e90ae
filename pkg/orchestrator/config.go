package orchestrator

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Polling defaults: a five minute grace period, then 72 checks five minutes
// apart (six hours and five minutes in total).
const (
	DefaultGrace    = 300 * time.Second
	DefaultInterval = 300 * time.Second
	DefaultAttempts = 72
)

// MockRunPrefix marks run ids answered with a fixed example result.
const MockRunPrefix = "test-"

// PollerConfig is the per-run completion polling budget.
type PollerConfig struct {
	// Grace is the wait before the first check.
	Grace time.Duration `mapstructure:"grace"`

	// Interval is the wait after every check.
	Interval time.Duration `mapstructure:"interval"`

	// Attempts is the maximum number of checks.
	Attempts int `mapstructure:"attempts"`
}

// DefaultPollerConfig returns the production polling budget.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Grace: DefaultGrace, Interval: DefaultInterval, Attempts: DefaultAttempts}
}

// TotalTimeout is grace + attempts × interval: how long a run that never
// signals is polled before it times out.
func (c PollerConfig) TotalTimeout() time.Duration {
	return c.Grace + time.Duration(c.Attempts)*c.Interval
}

// Validate rejects negative durations and budgets without a single check.
func (c PollerConfig) Validate() error {
	if c.Grace < 0 {
		return fmt.Errorf("poller grace must be >= 0, got %s", c.Grace)
	}
	if c.Interval < 0 {
		return fmt.Errorf("poller interval must be >= 0, got %s", c.Interval)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("poller attempts must be >= 1, got %d", c.Attempts)
	}
	return nil
}

// Remaining returns the budget left for a run launched elapsed ago. The
// grace period is skipped once it has passed, and at least one check is
// always left.
func (c PollerConfig) Remaining(elapsed time.Duration) PollerConfig {
	if elapsed <= 0 {
		return c
	}
	if elapsed < c.Grace {
		out := c
		out.Grace = c.Grace - elapsed
		return out
	}
	out := PollerConfig{Grace: 0, Interval: c.Interval, Attempts: c.Attempts}
	if c.Interval > 0 {
		used := int((elapsed - c.Grace) / c.Interval)
		out.Attempts = c.Attempts - used
	}
	if out.Attempts < 1 {
		out.Attempts = 1
	}
	return out
}

// Config tunes the orchestrator.
type Config struct {
	Poller PollerConfig `mapstructure:"poller"`

	// StoreRate limits completion checks across all runs, in requests per
	// second. Zero means unlimited.
	StoreRate float64 `mapstructure:"store_rate"`

	// StoreBurst is the limiter burst. Default: 1.
	StoreBurst int `mapstructure:"store_burst"`

	// DisablePollers skips starting pollers after launch. A serving process
	// resumes Running runs on start.
	DisablePollers bool `mapstructure:"disable_pollers"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Poller: DefaultPollerConfig(), StoreBurst: 1}
}

// Limiter builds the shared store limiter.
func (c Config) Limiter() *rate.Limiter {
	if c.StoreRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := c.StoreBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.StoreRate), burst)
}
