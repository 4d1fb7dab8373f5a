package cliexec

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/breaker"
	"github.com/loopwork-dev/taskrunner/internal/pool"
	"github.com/loopwork-dev/taskrunner/internal/selector"
	"github.com/loopwork-dev/taskrunner/internal/spawner"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

// spawnScript ignores the command the strategy resolved and instead spawns
// a shell script, so these tests exercise the real spawn/stream/kill path
// of §4.6 without depending on any real model CLI being on PATH.
func spawnScript(ctx context.Context, script string, opts spawner.Options) (*spawner.Process, error) {
	return spawner.Spawn(ctx, "sh", []string{"-c", script}, opts)
}

func newTestPools(t *testing.T) *pool.Manager {
	t.Helper()
	p := pool.New(map[string]pool.Config{"medium": {Size: 1}}, "medium")
	t.Cleanup(p.Shutdown)
	return p
}

// stubFreeMemory pins FreeMemoryMB for the duration of a test so the
// pre-spawn memory gate (§4.6 step c) never trips on the host actually
// running the suite.
func stubFreeMemory(t *testing.T) {
	t.Helper()
	prev := FreeMemoryMB
	FreeMemoryMB = func() int { return 1 << 20 }
	t.Cleanup(func() { FreeMemoryMB = prev })
}

func TestExecuteQuotaOutputSwitchesToFallback(t *testing.T) {
	stubFreeMemory(t)

	primary := types.ModelConfig{Name: "primary-claude", Kind: types.CliClaude, Enabled: true}
	fallback := types.ModelConfig{Name: "fallback-claude", Kind: types.CliClaude, Enabled: true}

	sel := selector.New(selector.Config{
		Primary:       []types.ModelConfig{primary},
		Fallback:      []types.ModelConfig{fallback},
		Strategy:      selector.StrategyRoundRobin,
		BreakerConfig: breaker.DefaultConfig(),
	})

	calls := 0
	exec := New(Config{
		Pools:      newTestPools(t),
		Selector:   sel,
		Strategies: NewRegistry(),
		Spawn: func(ctx context.Context, command string, argv []string, opts spawner.Options) (*spawner.Process, error) {
			calls++
			return spawnScript(ctx, "echo 'quota exceeded for this billing period'", opts)
		},
	})

	outFile := filepath.Join(t.TempDir(), "out.log")
	code, err := exec.Execute(context.Background(), "do the thing", outFile, 2*time.Second, ExecuteOptions{})

	require.Error(t, err)
	require.Equal(t, -1, code)

	var quotaErr *types.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)

	require.Equal(t, 1, calls, "a fatal-classified quota error is not retried within the same task")
	require.True(t, sel.UsingFallback(), "quota output must switch the selector to its fallback pool")
}

func TestExecuteOpencodeCacheCorruptionClearsAndRetries(t *testing.T) {
	stubFreeMemory(t)

	model := types.ModelConfig{Name: "primary-opencode", Kind: types.CliOpencode, Enabled: true}

	sel := selector.New(selector.Config{
		Primary:       []types.ModelConfig{model},
		Strategy:      selector.StrategyRoundRobin,
		BreakerConfig: breaker.DefaultConfig(),
	})

	registry := NewRegistry()
	opencode, ok := registry.Get(types.CliOpencode)
	require.True(t, ok)
	cleared := false
	opencode.ClearCache = func() (bool, error) {
		cleared = true
		return true, nil
	}

	calls := 0
	exec := New(Config{
		Pools:              newTestPools(t),
		Selector:           sel,
		Strategies:         registry,
		RetrySameModel:     true,
		MaxRetriesPerModel: 2,
		Spawn: func(ctx context.Context, command string, argv []string, opts spawner.Options) (*spawner.Process, error) {
			calls++
			if calls == 1 {
				return spawnScript(ctx, "echo 'ENOENT: no such file .cache/opencode/node_modules/foo'", opts)
			}
			return spawnScript(ctx, "echo ok", opts)
		},
	})

	outFile := filepath.Join(t.TempDir(), "out.log")
	code, err := exec.Execute(context.Background(), "do the thing", outFile, 2*time.Second, ExecuteOptions{})

	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.True(t, cleared, "the opencode strategy's ClearCache hook must run")
	require.Equal(t, 2, calls, "the attempt must be retried once the cache is cleared")
}

func TestExecuteTimeoutKillsChildInsteadOfHanging(t *testing.T) {
	stubFreeMemory(t)

	model := types.ModelConfig{
		Name:    "primary-claude",
		Kind:    types.CliClaude,
		Enabled: true,
		Timeout: 30 * time.Millisecond,
	}

	sel := selector.New(selector.Config{
		Primary:       []types.ModelConfig{model},
		Strategy:      selector.StrategyRoundRobin,
		BreakerConfig: breaker.DefaultConfig(),
	})

	calls := 0
	exec := New(Config{
		Pools:      newTestPools(t),
		Selector:   sel,
		Strategies: NewRegistry(),
		KillGrace:  20 * time.Millisecond,
		Spawn: func(ctx context.Context, command string, argv []string, opts spawner.Options) (*spawner.Process, error) {
			calls++
			// Traps SIGTERM so a premature SIGKILL (the bug this guards
			// against: the stdlib's own context-cancellation watchdog
			// racing ahead of the executor's grace-period kill) would
			// leave the 5s sleep running to completion instead.
			return spawnScript(ctx, `trap 'exit 1' TERM; sleep 5`, opts)
		},
	})

	outFile := filepath.Join(t.TempDir(), "out.log")
	start := time.Now()
	code, err := exec.Execute(context.Background(), "do the thing", outFile, 2*time.Second, ExecuteOptions{})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, -1, code)

	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	require.Equal(t, 2, calls)
	require.Less(t, elapsed, 3*time.Second, "a timed-out child must be killed well before its own sleep would return")
}
