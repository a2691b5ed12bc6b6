package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // e.g. 0.2 for 20% jitter
}

// DefaultRetryConfig returns the default retry configuration:
// 5 retries, 40ms base, 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  40 * time.Millisecond,
		JitterPct:  0.2,
	}
}

// RetryOnDBLock retries fn on transient SQLite lock/busy errors using the
// default config.
func RetryOnDBLock(fn func() error) error {
	return retryOnDBLock(DefaultRetryConfig(), fn, time.Sleep)
}

// RetryOnDBLockWithConfig retries fn using the given config.
func RetryOnDBLockWithConfig(cfg RetryConfig, fn func() error) error {
	return retryOnDBLock(cfg, fn, time.Sleep)
}

func retryOnDBLock(cfg RetryConfig, fn func() error, sleepFn func(time.Duration)) error {
	err := fn()
	for attempt := 1; err != nil && isDBLocked(err) && attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleepFn(delay + jitter)
		err = fn()
	}
	return err
}

func isDBLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
