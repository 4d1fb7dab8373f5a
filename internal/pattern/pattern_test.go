package pattern

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchOrderingPrefersMoreSpecificFirst(t *testing.T) {
	e := New()
	m, ok := e.Match("error: rate limit exceeded, too many requests")
	require.True(t, ok)
	require.Equal(t, "rate-limit", m.PatternName)
	require.NotNil(t, m.Action)
	require.Equal(t, ActionWaitAndRetry, m.Action.Kind)
}

func TestMatchRequiredEnvVarCapturesName(t *testing.T) {
	e := New()
	m, ok := e.Match("missing required environment variable: LOOPWORK_CLAUDE_PATH")
	require.True(t, ok)
	require.Equal(t, "required-env-var", m.PatternName)
	require.Equal(t, "LOOPWORK_CLAUDE_PATH", m.Groups[1])
	require.Equal(t, ActionSetEnvHint, m.Action.Kind)
}

func TestMatchReturnsFalseOnNoHit(t *testing.T) {
	e := New()
	_, ok := e.Match("all systems nominal")
	require.False(t, ok)
}

func TestLooksLikeErrorFallback(t *testing.T) {
	require.True(t, LooksLikeError.MatchString("an unexpected exception occurred"))
	require.False(t, LooksLikeError.MatchString("task completed successfully"))
}

func TestAppendExtendsTableAtEnd(t *testing.T) {
	e := New()
	e.Append(&Pattern{Name: "custom", Severity: SeverityInfo, Regex: regexp.MustCompile(`custom-marker`)})
	m, ok := e.Match("custom-marker seen")
	require.True(t, ok)
	require.Equal(t, "custom", m.PatternName)
}
