package healer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/breaker"
	"github.com/loopwork-dev/taskrunner/internal/pattern"
)

func TestHealerExecutesAutoActionOnMatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	require.NoError(t, os.WriteFile(logPath, []byte{}, 0o644))

	var executed []string
	h, err := New(Config{
		LogPath:  logPath,
		StateDir: filepath.Join(dir, "state"),
		Breaker:  breaker.Config{FailureThreshold: 5, ResetTimeout: time.Second, HalfOpenMaxCalls: 1},
		Execute: func(ctx context.Context, m pattern.Match) (bool, error) {
			executed = append(executed, m.PatternName)
			return true, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("permission denied: cannot write output\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(executed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "permission-denied", executed[0])
}

func TestHealerPersistsStateOnStop(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	require.NoError(t, os.WriteFile(logPath, []byte{}, 0o644))
	stateDir := filepath.Join(dir, "state")

	h, err := New(Config{LogPath: logPath, StateDir: stateDir})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop())

	require.FileExists(t, filepath.Join(stateDir, "monitor-state.json"))
	require.FileExists(t, filepath.Join(stateDir, "wisdom.json"))
	require.FileExists(t, filepath.Join(stateDir, "llm-cache.json"))
}

func TestHandleTaskFailureAppliesEnhancementOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	require.NoError(t, os.WriteFile(logPath, []byte{}, 0o644))

	var hints []string
	h, err := New(Config{
		LogPath:  logPath,
		StateDir: filepath.Join(dir, "state"),
		Enhance: func(ctx context.Context, taskID, hint string) error {
			hints = append(hints, hint)
			return nil
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.HandleTaskFailure(ctx, "task-1", "timeout", []string{"execution timed out after 30s"}))
	require.NoError(t, h.HandleTaskFailure(ctx, "task-1", "timeout", []string{"execution timed out after 30s"}))
	require.Len(t, hints, 1)
}

func TestWisdomSignatureIsDeterministic(t *testing.T) {
	require.Equal(t, Signature("rate-limit"), Signature("rate-limit"))
	require.NotEqual(t, Signature("rate-limit"), Signature("permission-denied"))
}
