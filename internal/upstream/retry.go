// Package upstream runs calls to remote services (embedding endpoint, LLM
// API) with a per-attempt timeout and bounded exponential backoff.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when every attempt ran out of time.
var ErrTimeout = errors.New("upstream call timed out")

// Policy bounds a remote call.
type Policy struct {
	// Timeout applies to each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the backoff before the first retry; it doubles each retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns a policy suitable for interactive requests.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// temporary is implemented by errors that are worth retrying.
type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth retrying: a per-attempt deadline
// or an error that marks itself temporary.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// Do calls fn until it succeeds, fails permanently, or the retries are used
// up. Each attempt gets its own deadline derived from ctx. Cancellation of ctx
// stops immediately and returns ctx.Err(). When the last failure was a
// deadline the returned error wraps ErrTimeout.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			logger.Warn("retrying upstream call",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			// The caller gave up; do not dress this up as an upstream timeout.
			return zero, ctx.Err()
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return zero, fmt.Errorf("%s: %w after %d attempts: %v", op, ErrTimeout, p.MaxRetries+1, lastErr)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxRetries+1, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
