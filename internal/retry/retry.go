// Package retry implements jittered exponential backoff for the
// durable-backend and embedding-provider calls that spec.md §4.9
// classifies as recoverable.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cliairmonitor/epimem/internal/errors"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultConfig provides sensible defaults for a backend/provider call.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Do executes fn with retry logic, stopping early if ctx is canceled
// or fn returns an error that is not recoverable per
// internal/errors.Error.IsRecoverable(). A non-*errors.Error is
// treated as recoverable (it is the caller's own transient failure,
// not a classified boundary error).
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRecoverable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if cfg.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.Wrap(errors.KindExecutionTimeout, "max retry attempts exceeded", lastErr)
}

func isRecoverable(err error) bool {
	var boundary *errors.Error
	if errors.As(err, &boundary) {
		return boundary.IsRecoverable()
	}
	return true
}
