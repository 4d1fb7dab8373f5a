// Package resilience implements the retry/backoff loop of spec §4.5,
// generalized from the teacher's Supervisor.retryWithBackoff (which
// retries one fixed AI call) into a runner that retries an arbitrary
// operation and lets the caller classify its own errors via
// internal/types.Classify.
package resilience

import (
	"context"
	"time"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

// Config tunes the retry loop.
type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64 // used when ExponentialBackoff is true
	ExponentialBackoff bool
	RateLimitWaitMs   int

	// RetryableErrors is the caller-listed set of substrings that mark an
	// otherwise-fatal error as transient (§4.5 step 2), e.g.
	// "opencode cache corruption".
	RetryableErrors []string
}

// DefaultConfig matches the teacher's DefaultRetryConfig backoff shape.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        4,
		BaseDelay:          time.Second,
		MaxDelay:           30 * time.Second,
		Multiplier:         2.0,
		ExponentialBackoff: true,
		RateLimitWaitMs:    0,
	}
}

// Result is what Execute returns: success, or the classified failure
// that ended the loop.
type Result struct {
	Success bool
	Value   any
	Err     error
}

// Op is the operation the runner retries. It returns a value on success
// or a typed error the runner classifies via types.Classify.
type Op func(ctx context.Context) (any, error)

// Runner executes an Op under the retry/backoff/rate-limit policy of
// §4.5. A zero MaxAttempts runs the op zero times and returns failure
// (§8 boundary behavior).
type Runner struct {
	cfg Config
}

// New constructs a Runner.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Execute runs op up to cfg.MaxAttempts times, sleeping between retryable
// attempts per the classification of the returned error (§4.5 steps 1-3).
// Cancellation of ctx is honored between attempts and during sleeps.
func (r *Runner) Execute(ctx context.Context, op Op) Result {
	delay := r.cfg.BaseDelay

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Err: err}
		}

		value, err := op(ctx)
		if err == nil {
			return Result{Success: true, Value: value}
		}

		class := types.Classify(err, r.cfg.RetryableErrors)
		isLastAttempt := attempt == r.cfg.MaxAttempts-1

		switch class {
		case types.ClassRateLimit:
			if isLastAttempt {
				return Result{Err: err}
			}
			if !r.sleep(ctx, time.Duration(r.cfg.RateLimitWaitMs)*time.Millisecond) {
				return Result{Err: ctx.Err()}
			}
			continue

		case types.ClassTransient:
			if isLastAttempt {
				return Result{Err: err}
			}
			if !r.sleep(ctx, delay) {
				return Result{Err: ctx.Err()}
			}
			delay = r.nextDelay(delay)
			continue

		default: // ClassFatal
			return Result{Err: err}
		}
	}

	return Result{Err: context.DeadlineExceeded}
}

// nextDelay computes the next backoff delay per §4.5 step 3:
// delay = min(maxDelay, baseDelay * multiplier^attempt) when exponential
// backoff is enabled, else a constant baseDelay.
func (r *Runner) nextDelay(current time.Duration) time.Duration {
	if !r.cfg.ExponentialBackoff {
		return r.cfg.BaseDelay
	}
	next := time.Duration(float64(current) * r.cfg.Multiplier)
	if next > r.cfg.MaxDelay {
		next = r.cfg.MaxDelay
	}
	return next
}

// sleep waits for d or returns false if ctx is canceled first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
