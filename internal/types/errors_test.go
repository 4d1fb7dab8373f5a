package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		retryableErrors []string
		expected        Classification
	}{
		{
			name:     "rate limit error",
			err:      &RateLimitError{CliDisplayName: "claude", Detail: "429"},
			expected: ClassRateLimit,
		},
		{
			name:     "cache corruption cleared is transient",
			err:      &CacheCorruptionError{CliDisplayName: "opencode", Cleared: true},
			expected: ClassTransient,
		},
		{
			name:     "cache corruption not cleared is fatal",
			err:      &CacheCorruptionError{CliDisplayName: "opencode", Cleared: false},
			expected: ClassFatal,
		},
		{
			name:     "timeout is transient",
			err:      &TimeoutError{CliDisplayName: "gemini"},
			expected: ClassTransient,
		},
		{
			name:     "transient error",
			err:      &TransientError{Msg: "flaky"},
			expected: ClassTransient,
		},
		{
			name:     "quota exceeded is fatal absent a retryable-pattern match",
			err:      &QuotaExceededError{CliDisplayName: "claude", Detail: "billing"},
			expected: ClassFatal,
		},
		{
			name:     "resource exhausted is fatal",
			err:      &ResourceExhaustedError{FreeMemoryMB: 10, RequiredMB: 512},
			expected: ClassFatal,
		},
		{
			name:     "model unavailable is fatal",
			err:      &ModelUnavailableError{Reason: "all disabled"},
			expected: ClassFatal,
		},
		{
			name:     "cli not found is fatal",
			err:      &CliNotFoundError{Kind: CliDroid},
			expected: ClassFatal,
		},
		{
			name:     "generic error is fatal",
			err:      errors.New("boom"),
			expected: ClassFatal,
		},
		{
			name:            "caller-supplied retryable substring overrides fatal",
			err:             errors.New("opencode cache corruption detected at offset 12"),
			retryableErrors: []string{"opencode cache corruption"},
			expected:        ClassTransient,
		},
		{
			name:            "caller-supplied retryable substring match is case-insensitive",
			err:             errors.New("OPENCODE CACHE CORRUPTION detected"),
			retryableErrors: []string{"opencode cache corruption"},
			expected:        ClassTransient,
		},
		{
			name:            "retryable substring list does not widen the typed taxonomy",
			err:             &CacheCorruptionError{CliDisplayName: "opencode", Cleared: false},
			retryableErrors: []string{"opencode cache corruption"},
			expected:        ClassFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, tt.retryableErrors)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestClassifyNilErrorIsFatal(t *testing.T) {
	assert.Equal(t, ClassFatal, Classify(nil, nil), "callers must not invoke Classify on success, but a nil must not panic")
}

func TestCacheCorruptionErrorMessage(t *testing.T) {
	cleared := &CacheCorruptionError{CliDisplayName: "opencode", Cleared: true}
	assert.Contains(t, cleared.Error(), "cleared")

	notCleared := &CacheCorruptionError{CliDisplayName: "opencode", Cleared: false}
	assert.Contains(t, notCleared.Error(), "clearing failed")
}
