package guard

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// ExponentialBackoff yields InitialDelay * 2^attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoff returns the stock hardware backoff.
// 10ms, 20ms, 40ms, ... (Max 200ms)
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
	}
}

// GetDelay returns the delay before retry number attempt (0-indexed).
func (b ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(2, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// Waiter blocks for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

// Sleep is the default Waiter.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// NoWait returns immediately. Tests use it to keep backoff out of the clock.
func NoWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// ErrorAction determines how to handle a failed attempt.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionAbort
)

// ClassifyError maps an attempt error to an action. Only cancellation of the
// caller's context stops the retry loop early; every hardware-side failure is
// retried.
func ClassifyError(parent context.Context, err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if parent.Err() != nil {
		return ActionAbort
	}
	if errors.Is(err, domain.ErrNilOperation) {
		return ActionAbort
	}
	return ActionRetry
}
