package reconcile

import (
	"context"
	"math"
	"time"

	"calbridge/internal/target"
)

// RetryPolicy controls per-operation retries of retryable adapter failures
// with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults: 8 attempts,
// 1s initial delay doubling up to 32s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  8,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     32 * time.Second,
	}
}

// NextDelay returns the backoff delay before the given attempt's retry
// (1-indexed): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or
// exhausts MaxAttempts. A Retry-After hint on the error overrides the
// computed backoff, still capped at MaxDelay. Context cancellation during
// backoff surfaces as a fatal error so the run aborts.
func (p RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !target.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.NextDelay(attempt)
		if hint := target.RetryAfterHint(err); hint > 0 {
			delay = hint
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &target.FatalError{Err: ctx.Err()}
		}
	}
	return lastErr
}
