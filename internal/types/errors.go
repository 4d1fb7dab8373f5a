package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// The taxonomy below mirrors how internal/ai/retry.go in the teacher
// classifies Anthropic SDK errors into ErrorType, except the values here
// are this system's own closed set (§7): RateLimit, QuotaExceeded,
// Timeout, CacheCorruption, ResourceExhausted, ModelUnavailable,
// CliNotFound, Transient, Fatal. Each is a distinct type so callers can
// errors.As against the one they care about; the resilience runner, via
// Classify, tests RateLimit, CacheCorruption, Timeout and Transient in
// turn and treats every other type as fatal.

// RateLimitError means the vendor signalled a rate limit. The resilience
// runner sleeps RateLimitWaitMs and retries the same model.
type RateLimitError struct {
	CliDisplayName string
	Detail         string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.CliDisplayName, e.Detail)
}

// QuotaExceededError means the vendor exhausted quota/billing. The
// executor switches the selector to its fallback pool before surfacing
// this as fatal for the current attempt.
type QuotaExceededError struct {
	CliDisplayName string
	Detail         string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: quota exceeded: %s", e.CliDisplayName, e.Detail)
}

// TimeoutError means the per-invocation timer expired and the child was
// killed. Treated as transient by the resilience runner.
type TimeoutError struct {
	CliDisplayName string
	After          time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.CliDisplayName, e.After)
}

// CacheCorruptionError is opencode-specific: the strategy detected a
// corrupted local cache. Transient if the cache was cleared, fatal if
// clearing itself failed.
type CacheCorruptionError struct {
	CliDisplayName string
	Cleared        bool
}

func (e *CacheCorruptionError) Error() string {
	if e.Cleared {
		return fmt.Sprintf("%s: cache corruption detected and cleared", e.CliDisplayName)
	}
	return fmt.Sprintf("%s: cache corruption detected and clearing failed", e.CliDisplayName)
}

// ResourceExhaustedError means the pre-spawn memory check failed or the
// process manager reported an out-of-memory condition. Fatal for the
// attempt; may abort the whole execute.
type ResourceExhaustedError struct {
	FreeMemoryMB int
	RequiredMB   int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("insufficient free memory: have %dMB, need %dMB", e.FreeMemoryMB, e.RequiredMB)
}

// ModelUnavailableError means the selector returned no candidate: every
// model in both pools is disabled, breaker-open, or absent.
type ModelUnavailableError struct {
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("no models left: %s", e.Reason)
}

// CliNotFoundError means no executable path resolved for the chosen
// cli-kind. Path discovery itself is external; the core only surfaces
// the failure.
type CliNotFoundError struct {
	Kind CliKind
}

func (e *CliNotFoundError) Error() string {
	return fmt.Sprintf("no path resolved for cli-kind %q", e.Kind)
}

// TransientError is a retryable condition that the resilience runner
// retries under backoff rather than rate-limit or quota accounting.
// Cleared opencode cache corruption is reported as a CacheCorruptionError
// instead, which Classify also treats as transient.
type TransientError struct {
	Msg string
}

func (e *TransientError) Error() string { return e.Msg }

// FatalError is any other non-zero exit or uncategorized failure; the
// resilience runner returns immediately on it.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return e.Msg }

// Classify buckets an arbitrary error into the three dispositions the
// resilience runner's retry loop needs (§4.5 step 2): rate-limit,
// retryable-transient, or fatal. Success is represented by a nil error
// and is not a Classification.
type Classification int

const (
	ClassRateLimit Classification = iota
	ClassTransient
	ClassFatal
)

// Classify inspects err against the typed taxonomy plus a caller-supplied
// list of substrings (retryableErrors, e.g. "opencode cache corruption")
// that should also be treated as transient even when wrapped in a bare
// FatalError or TransientError.
func Classify(err error, retryableErrors []string) Classification {
	if err == nil {
		return ClassFatal // callers must not invoke Classify on success
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimit
	}

	var cc *CacheCorruptionError
	if errors.As(err, &cc) {
		if cc.Cleared {
			return ClassTransient
		}
		return ClassFatal
	}

	var to *TimeoutError
	if errors.As(err, &to) {
		return ClassTransient
	}

	var tr *TransientError
	if errors.As(err, &tr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableErrors {
		if pattern != "" && strings.Contains(msg, strings.ToLower(pattern)) {
			return ClassTransient
		}
	}

	return ClassFatal
}
