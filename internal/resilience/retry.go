package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrPermanent wraps an error to tell [Retry] that further attempts are
// pointless (e.g. a 4xx response). Use [Permanent] to apply it.
var ErrPermanent = errors.New("permanent error")

// Permanent marks err as non-retryable for [Retry].
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of call attempts. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; it doubles per
	// attempt thereafter. Default: 250ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt delay. Default: 5s.
	MaxBackoff time.Duration
}

// Retry runs fn up to cfg.MaxAttempts times with jittered exponential
// backoff between attempts. It returns nil on the first success, the last
// error once attempts are exhausted, immediately on a [Permanent] error, and
// ctx.Err() if the context expires while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		// Full jitter: sleep a random duration in [0, backoff).
		delay := time.Duration(rand.Int64N(int64(backoff)))
		slog.Debug("retrying after failure",
			"name", cfg.Name,
			"attempt", attempt,
			"delay", delay,
			"err", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}
