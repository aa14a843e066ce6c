// Package retry runs an operation with bounded exponential back-off.
//
// The executor knows nothing about providers: it re-runs op until it
// succeeds, returns a permanent error, the context ends, or the attempt
// budget is spent. Delays are BaseDelay * 2^i after the i-th failed attempt,
// with no jitter, so callers and tests can predict them exactly.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep replaces the real timer; tests use it to record delays.
	Sleep SleepFunc

	// Name labels log lines, e.g. "rentcast.comparables".
	Name   string
	Logger *zap.Logger
}

// DefaultPolicy returns 3 attempts starting at a one second delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Named returns a copy of p with the given log label.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Sleep == nil {
		p.Sleep = TimerSleep
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Name == "" {
		p.Name = "operation"
	}
	return p
}

// Delay returns the wait after the failed attempt with zero-based index i.
func (p Policy) Delay(i int) time.Duration {
	return p.BaseDelay << uint(i)
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged (still matchable with errors.Is / errors.As).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// permanentCause returns the error marked with Permanent inside err, or nil.
func permanentCause(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return nil
}

// Do calls op until it succeeds or the policy gives up.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p := policy.normalized()
	var zero T
	var lastErr error

	for i := 0; i < p.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if cause := permanentCause(err); cause != nil {
			return zero, cause
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}

		if i == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(i)
		p.Logger.Warn("retrying after failure",
			zap.String("op", p.Name),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// TimerSleep is the default SleepFunc.
func TimerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
