// Package guard wraps hardware operations with a timeout, bounded retries and
// exponential backoff. It is the only place allowed to wait on hardware.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/metrics"
)

// Operation is one hardware access. The returned value is the register
// content for reads and is ignored for writes.
type Operation func(ctx context.Context) (uint32, error)

// Config bounds every guarded operation.
type Config struct {
	Timeout    time.Duration
	MaxRetries int // total attempts per operation
	Backoff    ExponentialBackoff
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		Timeout:    500 * time.Millisecond,
		MaxRetries: 3,
		Backoff:    DefaultBackoff(),
	}
}

// Guard executes operations for any number of devices. Each call keeps its
// own attempt state, so different devices can be guarded concurrently.
type Guard struct {
	cfg    Config
	wait   Waiter
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithWaiter replaces the backoff sleep.
func WithWaiter(w Waiter) Option {
	return func(g *Guard) {
		if w != nil {
			g.wait = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) *Guard {
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = d.Backoff
	}
	g := &Guard{
		cfg:    cfg,
		wait:   Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "guard")
	return g
}

func (g *Guard) Config() Config { return g.cfg }

// Wait blocks for d through the configured waiter.
func (g *Guard) Wait(ctx context.Context, d time.Duration) error {
	return g.wait(ctx, d)
}

// Execute runs op with the configured timeout and retry limit.
func (g *Guard) Execute(ctx context.Context, dev *device.State, name string, op Operation) (uint32, error) {
	return g.ExecuteWith(ctx, dev, name, op, g.cfg.Timeout, g.cfg.MaxRetries)
}

// ExecuteWith runs op up to maxRetries times. An attempt fails when op
// returns an error, returns the floating-bus sentinel, or does not finish
// within timeout. On exhaustion the device is charged an adapter failure and
// the returned error wraps domain.ErrGuardTimeout.
func (g *Guard) ExecuteWith(
	ctx context.Context,
	dev *device.State,
	name string,
	op Operation,
	timeout time.Duration,
	maxRetries int,
) (uint32, error) {
	if op == nil {
		return 0, domain.ErrNilOperation
	}
	if dev == nil {
		return 0, domain.ErrInvalidDevice
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}

	var (
		lastErr  error
		attempts uint64
		timeouts uint64
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		attempts++
		val, err := g.attempt(ctx, op, timeout)
		if err == nil {
			dev.RecordGuard(attempts, timeouts, false)
			return val, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			timeouts++
		}
		if ClassifyError(ctx, err) == ActionAbort {
			dev.RecordGuard(attempts, timeouts, false)
			return 0, fmt.Errorf("%s on %s aborted: %w", name, dev.ID(), err)
		}

		if attempt == maxRetries-1 {
			break
		}

		metrics.GuardRetries.WithLabelValues(dev.ID(), name).Inc()
		delay := g.cfg.Backoff.GetDelay(attempt)
		g.logger.Debug("Retrying hardware operation",
			"device", dev.ID(), "op", name, "attempt", attempt+1, "delay", delay, "error", err)
		if werr := g.wait(ctx, delay); werr != nil {
			dev.RecordGuard(attempts, timeouts, false)
			return 0, fmt.Errorf("%s on %s aborted: %w", name, dev.ID(), werr)
		}
	}

	dev.RecordGuard(attempts, timeouts, true)
	dev.RecordAdapterFailure()
	metrics.GuardExhaustions.WithLabelValues(dev.ID(), name).Inc()
	g.logger.Warn("Hardware operation exhausted retries",
		"device", dev.ID(), "op", name, "attempts", attempts, "error", lastErr)

	return 0, fmt.Errorf("%s on %s failed after %d attempts: %w: %w",
		name, dev.ID(), attempts, domain.ErrGuardTimeout, lastErr)
}

type result struct {
	val uint32
	err error
}

// attempt runs op once and gives up when timeout elapses even if op ignores
// its context.
func (g *Guard) attempt(ctx context.Context, op Operation, timeout time.Duration) (uint32, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		v, err := op(opCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, r.err
		}
		if IsSentinel(r.val) {
			return 0, domain.ErrInvalidResponse
		}
		return r.val, nil
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, fmt.Errorf("no response within %v: %w", timeout, context.DeadlineExceeded)
		}
		return 0, opCtx.Err()
	}
}

// IsSentinel reports a value read from an adapter that is not driving the
// bus.
func IsSentinel(v uint32) bool {
	return v == uint32(domain.StatusSentinel) || v == 0xFFFFFFFF
}
