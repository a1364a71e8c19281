package rpcsource

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/goran-ethernal/chainwatch/pkg/config"
)

// retryableError reports whether err is worth retrying, per
// classifyRPCError. A "too many results" rejection is not retryable
// through this path: fetchLogsWithRetry handles that by splitting the
// range, not by retrying the same call.
func retryableError(err error) bool {
	kind, _ := classifyRPCError(err)
	return kind == kindTransient
}

// calculateBackoff computes the exponential backoff duration for a
// given attempt, with +/-25% jitter, capped at cfg.MaxBackoff.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))

	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff runs fn with exponential backoff, respecting
// context cancellation. A nil cfg runs fn exactly once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				rpcRetryInc(operation)
			}
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return &PermanentRPCError{Op: operation, Err: err}
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoffDuration := calculateBackoff(attempt, cfg)
		if backoffDuration > 0 {
			select {
			case <-time.After(backoffDuration):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		rpcRetryInc(operation)
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(startTime), lastErr)
}
