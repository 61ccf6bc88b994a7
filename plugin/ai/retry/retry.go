// Package retry runs remote AI calls with bounded attempts and backoff.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func(attempt int) error {
//	    return client.Call()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt. Zero means no wait.
	InitialDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	// Values below 1 are treated as 1 (fixed delay).
	Multiplier float64
	// MaxDelay caps the per-attempt wait when positive.
	MaxDelay time.Duration
	// ShouldRetry optionally classifies errors as retryable.
	// When nil, all non-nil errors are retried.
	ShouldRetry func(err error) bool
}

// Fixed returns a config with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{MaxAttempts: attempts, InitialDelay: delay, Multiplier: 1}
}

// Exponential returns a config whose delay doubles after each failed attempt.
func Exponential(attempts int, initial time.Duration) Config {
	return Config{MaxAttempts: attempts, InitialDelay: initial, Multiplier: 2}
}

// Do calls fn up to cfg.MaxAttempts times. fn receives the 1-based attempt
// number. It stops early when ctx is cancelled or fn returns nil, and returns
// the error of the last attempt.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"error", lastErr, "delay", delay)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
