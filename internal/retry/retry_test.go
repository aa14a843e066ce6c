package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(rec *sleepRecorder) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	v, err := Do(context.Background(), testPolicy(rec), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	v, err := Do(context.Background(), testPolicy(rec), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoExhausted(t *testing.T) {
	rec := &sleepRecorder{}
	boom := errors.New("connection reset")
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	cfgErr := errors.New("missing api key")
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(cfgErr)
	})
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
	assert.Same(t, cfgErr, err)

	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex))
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &sleepRecorder{}
	calls := 0
	_, err := Do(ctx, testPolicy(rec), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.NotNil(t, p.Sleep)
	assert.Equal(t, "operation", p.Name)

	d := DefaultPolicy()
	assert.Equal(t, time.Second, d.Delay(0))
	assert.Equal(t, 2*time.Second, d.Delay(1))
	assert.Equal(t, 4*time.Second, d.Delay(2))
	assert.Equal(t, "bridge.comparables", d.Named("bridge.comparables").Name)
}

func TestPermanentHelpers(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := errors.New("bad key")
	wrapped := Permanent(base)
	assert.Same(t, base, permanentCause(fmt.Errorf("rentcast: %w", wrapped)))
	assert.Nil(t, permanentCause(base))
	assert.ErrorIs(t, wrapped, base)

	calls := 0
	_, err := Do(context.Background(), Policy{Sleep: func(context.Context, time.Duration) error { return nil }},
		func(context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("rentcast: %w", wrapped)
		})
	assert.Same(t, base, err)
	assert.Equal(t, 1, calls, "a wrapped permanent error stops retries")
}

func TestTimerSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, TimerSleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, TimerSleep(context.Background(), time.Millisecond))
}
