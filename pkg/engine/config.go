package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultStepTimeout    = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Config is the per-node execution policy.
type Config struct {
	// StepTimeout bounds a single action attempt.
	StepTimeout time.Duration

	// MaxAttempts counts the first attempt; transient errors are retried
	// until it is reached.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		StepTimeout:    DefaultStepTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}

	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.InitialBackoff)
	}

	return c
}

// retryPolicy is exponential from InitialBackoff, capped at MaxBackoff, and
// allows MaxAttempts-1 retries.
func (c Config) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0

	return backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1))
}
