package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	r := New(DefaultConfig())
	calls := 0

	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	r := New(cfg)

	calls := 0
	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, &types.TransientError{Msg: "temporary hiccup"}
		}
		return "recovered", nil
	})

	require.True(t, res.Success)
	assert.Equal(t, "recovered", res.Value)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsImmediatelyOnFatalError(t *testing.T) {
	r := New(DefaultConfig())
	calls := 0

	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, &types.FatalError{Msg: "bad config"}
	})

	require.False(t, res.Success)
	assert.Equal(t, 1, calls, "a fatal classification must not be retried")
}

func TestExecuteExhaustsMaxAttemptsOnPersistentTransientError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	r := New(cfg)

	calls := 0
	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, &types.TransientError{Msg: "still failing"}
	})

	require.False(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestExecuteZeroMaxAttemptsNeverCallsOp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	r := New(cfg)

	called := false
	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	assert.False(t, called)
	assert.False(t, res.Success)
}

func TestExecuteHonorsContextCancellationDuringBackoffSleep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	cfg.MaxDelay = time.Second
	r := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := r.Execute(ctx, func(ctx context.Context) (any, error) {
		calls++
		return nil, &types.TransientError{Msg: "retry me"}
	})

	require.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestExecuteRateLimitUsesConfiguredWaitNotExponentialBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitWaitMs = 1
	cfg.BaseDelay = time.Hour // would hang the test if rate limit used backoff delay
	r := New(cfg)

	calls := 0
	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 2 {
			return nil, &types.RateLimitError{CliDisplayName: "claude", Detail: "429"}
		}
		return "ok", nil
	})

	require.True(t, res.Success)
	assert.Equal(t, 2, calls)
}

func TestExecuteClassifiesCallerSuppliedRetryablePatternAsTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.RetryableErrors = []string{"opencode cache corruption"}
	r := New(cfg)

	calls := 0
	res := r.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("opencode cache corruption detected at offset 12")
		}
		return "ok", nil
	})

	require.True(t, res.Success)
	assert.Equal(t, 2, calls)
}

func TestNextDelayCapsAtMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0, ExponentialBackoff: true}
	r := New(cfg)

	d := r.nextDelay(2 * time.Second)
	assert.Equal(t, 3*time.Second, d)
}

func TestNextDelayConstantWhenExponentialBackoffDisabled(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second, ExponentialBackoff: false}
	r := New(cfg)

	assert.Equal(t, time.Second, r.nextDelay(5*time.Second))
}
