package errors

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig controls RetryWithBackoff
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps every wait
	MaxBackoff time.Duration
	// Multiplier grows the wait after each failed attempt
	Multiplier float64
	// RetryableErrors decides whether an error is worth another attempt.
	// nil retries everything.
	RetryableErrors func(error) bool
	// OnRetry, when set, is told about each failure that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig retries transport failures for up to about a minute
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialBackoff:  1 * time.Second,
		MaxBackoff:      30 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: IsRetryable,
	}
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable
// error, runs out of attempts or ctx is done.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(lastErr) {
			return fmt.Errorf("non-retryable error: %w", lastErr)
		}
		if attempt == config.MaxRetries {
			break
		}

		wait := config.backoff(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, lastErr, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewCancelledError("retry cancelled", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	wait := float64(c.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if c.MaxBackoff > 0 && wait > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(wait)
}
