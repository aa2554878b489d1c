// Package retry provides a small bounded-retry combinator used to wrap calls
// to flaky external services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p Permanent) Error() string {
	return p.Err.Error()
}

func (p Permanent) Unwrap() error {
	return p.Err
}

// MarkPermanent flags an error as non-retryable so Do fails fast on it.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return Permanent{Err: err}
}

// Config controls the retry budget.
type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is the fixed pause between consecutive attempts.
	Delay time.Duration
}

// Do invokes fn until it succeeds, the attempt budget is exhausted, the error
// is permanent, or the context is cancelled. The delay between attempts is a
// context-aware sleep, never a busy wait.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var permanent Permanent
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		if err := Sleep(ctx, cfg.Delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Sleep pauses for the given duration unless the context is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
