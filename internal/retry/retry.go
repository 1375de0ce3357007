// Package retry provides exponential-backoff retry for transient failures
// in the notification fan-out's outbound calls (internal/notify's Redis
// publish).
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy configures WithRetry's backoff behavior.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
	Logger     *slog.Logger
}

// DefaultPolicy returns three retries with a 50ms base delay doubling up
// to 1s, jittered — tuned for a single Redis PUBLISH call, not a slow
// external API.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry runs operation, retrying on a non-nil error up to
// policy.MaxRetries times with exponential backoff between attempts.
// Returns ctx.Err() immediately if ctx is canceled during a backoff wait.
func WithRetry(ctx context.Context, policy *Policy, operation func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := operation(); err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		} else {
			lastErr = err
		}

		if attempt >= policy.MaxRetries {
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
