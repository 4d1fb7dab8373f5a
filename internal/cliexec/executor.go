// Package cliexec also holds the CLI executor of spec §4.6: for each
// task, acquire a pool slot, resilience-run {select model -> spawn child
// -> stream output -> classify result}, release the slot. Grounded on
// the teacher's internal/executor.Executor (one ownership root composing
// a pool-gated, retried agent spawn) generalized from a single hardcoded
// agent type into the full model-selector/strategy-table/resilience-
// runner pipeline §4.6 specifies.
package cliexec

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loopwork-dev/taskrunner/internal/pool"
	"github.com/loopwork-dev/taskrunner/internal/resilience"
	"github.com/loopwork-dev/taskrunner/internal/selector"
	"github.com/loopwork-dev/taskrunner/internal/spawner"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

// SpawnFunc matches spawner.Spawn's signature so tests can substitute a
// fake child-process layer without touching a real OS process.
type SpawnFunc func(ctx context.Context, command string, argv []string, opts spawner.Options) (*spawner.Process, error)

// PreambleFunc returns an optional plugin-injected capability preamble
// that is concatenated ahead of the user prompt (§4.6 step 1). The
// plugin hook bus itself is out of scope (§1); callers wire their own.
type PreambleFunc func() string

// Config wires an Executor's collaborators, all owned by the caller's
// constructor per §3 "the executor owns its pool manager, selector,
// spawner, and strategy registry (all composed in its constructor)".
type Config struct {
	Pools      *pool.Manager
	Selector   *selector.Selector
	Strategies *Registry
	Spawn      SpawnFunc // nil uses spawner.Spawn

	// RetrySameModel and MaxRetriesPerModel size the resilience runner's
	// max-attempts budget (§4.6 step 4, §9 Open Questions: the "+1" is
	// preserved verbatim).
	RetrySameModel    bool
	MaxRetriesPerModel int

	RateLimitWaitMs int
	KillGrace       time.Duration // SIGTERM-to-SIGKILL grace (§4.6 step e), default 5s

	Preamble PreambleFunc
	LogSink  *os.File // tee destination for child output; nil discards

	// MinFreeMemoryMB overrides the default pre-spawn memory gate
	// (§4.6 step c); zero uses MinFreeMemoryMB.
	MinFreeMemoryMB int

	// ResolvePath resolves a cli-kind to its executable path. CLI path
	// discovery proper is out of scope (§1); this defaults to the
	// LOOPWORK_<KIND>_PATH env override (§6) falling back to the bare
	// kind name for a PATH lookup by exec.Command itself.
	ResolvePath func(kind types.CliKind) string
}

func defaultResolvePath(kind types.CliKind) string {
	envVar := "LOOPWORK_" + strings.ToUpper(string(kind)) + "_PATH"
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return string(kind)
}

// ExecuteOptions carries per-call routing and permission data (§4.6).
type ExecuteOptions struct {
	TaskID      string
	WorkerID    string
	Priority    types.Priority
	Feature     string
	Permissions map[string]string
}

// Executor is the CLI executor of §4.6.
type Executor struct {
	cfg Config
}

// New constructs an Executor from its collaborators.
func New(cfg Config) *Executor {
	if cfg.Spawn == nil {
		cfg.Spawn = spawner.Spawn
	}
	if cfg.MaxRetriesPerModel <= 0 {
		cfg.MaxRetriesPerModel = 1
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.MinFreeMemoryMB <= 0 {
		cfg.MinFreeMemoryMB = MinFreeMemoryMB
	}
	if cfg.ResolvePath == nil {
		cfg.ResolvePath = defaultResolvePath
	}
	return &Executor{cfg: cfg}
}

// Execute runs one task's prompt to completion, returning the CLI exit
// code (0 on success) or the classified failure that ended all retries
// (§4.6, §7 "above the runner, only success/failure... is surfaced").
func (e *Executor) Execute(ctx context.Context, prompt, outputFile string, timeout time.Duration, opts ExecuteOptions) (int, error) {
	finalPrompt := e.composePrompt(prompt)
	if err := e.persistPrompt(outputFile, finalPrompt); err != nil {
		return -1, fmt.Errorf("compose prompt: %w", err)
	}

	poolName := e.poolName(opts)
	slot, err := e.cfg.Pools.Acquire(ctx, poolName, opts.TaskID, 0)
	if err != nil {
		return -1, fmt.Errorf("acquire pool %q: %w", poolName, err)
	}
	defer e.cfg.Pools.Release(slot)

	maxAttempts := e.maxAttempts()
	runner := resilience.New(resilience.Config{
		MaxAttempts:        maxAttempts,
		BaseDelay:          time.Second,
		MaxDelay:           30 * time.Second,
		Multiplier:         2.0,
		ExponentialBackoff: true,
		RateLimitWaitMs:    e.cfg.RateLimitWaitMs,
		RetryableErrors:    []string{"opencode cache corruption"},
	})

	result := runner.Execute(ctx, func(ctx context.Context) (any, error) {
		return e.attempt(ctx, finalPrompt, outputFile, timeout, opts)
	})

	if !result.Success {
		if result.Err == nil {
			result.Err = fmt.Errorf("all CLI configurations failed")
		} else {
			result.Err = fmt.Errorf("all CLI configurations failed: %w", result.Err)
		}
		return -1, result.Err
	}
	return result.Value.(int), nil
}

// composePrompt concatenates the optional plugin preamble with the user
// prompt (§4.6 step 1).
func (e *Executor) composePrompt(prompt string) string {
	if e.cfg.Preamble == nil {
		return prompt
	}
	preamble := e.cfg.Preamble()
	if preamble == "" {
		return prompt
	}
	return preamble + "\n\n" + prompt
}

// persistPrompt writes the final composed prompt to current-prompt.md,
// a sibling of outputFile, for post-mortem (§4.6 step 1).
func (e *Executor) persistPrompt(outputFile, finalPrompt string) error {
	dir := filepath.Dir(outputFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	path := filepath.Join(dir, "current-prompt.md")
	return os.WriteFile(path, []byte(finalPrompt), 0o644)
}

// poolName resolves (priority, feature) to a pool name per §4.6 step 2:
// feature takes precedence if a pool by that name exists, else the
// priority class's pool, else "medium".
func (e *Executor) poolName(opts ExecuteOptions) string {
	task := types.Task{Priority: opts.Priority, Feature: opts.Feature}
	name := task.PoolName(e.cfg.Pools.PoolExists)
	if name == "" {
		name = "medium"
	}
	return name
}

// maxAttempts implements §4.6 step 4's formula verbatim, including the
// unexplained "+1" (§9 Open Questions).
func (e *Executor) maxAttempts() int {
	total := e.cfg.Selector.TotalModelCount()
	perModel := 1
	if e.cfg.RetrySameModel {
		perModel = e.cfg.MaxRetriesPerModel
	}
	return total*perModel + 1
}

// attempt runs one model-selected spawn cycle: §4.6 steps a-f.
func (e *Executor) attempt(ctx context.Context, prompt, outputFile string, timeout time.Duration, opts ExecuteOptions) (int, error) {
	model, ok := e.cfg.Selector.GetNext()
	if !ok {
		return -1, &types.ModelUnavailableError{Reason: "selector exhausted primary and fallback pools"}
	}

	strategy, ok := e.cfg.Strategies.Get(model.Kind)
	if !ok {
		return -1, &types.CliNotFoundError{Kind: model.Kind}
	}

	prepared := strategy.Prepare(model, prompt, model.Env, opts.Permissions)

	if free := FreeMemoryMB(); free < e.cfg.MinFreeMemoryMB {
		return -1, &types.ResourceExhaustedError{FreeMemoryMB: free, RequiredMB: e.cfg.MinFreeMemoryMB}
	}

	callTimeout := timeout
	if model.Timeout > 0 {
		callTimeout = model.Timeout
	}
	spawnCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	command := e.cfg.ResolvePath(model.Kind)
	proc, err := e.cfg.Spawn(spawnCtx, command, prepared.Argv, spawner.Options{
		Env:   envSlice(prepared.Env),
		Stdin: prepared.StdinInput,
	})
	if err != nil {
		e.cfg.Selector.RecordFailure(model.Name)
		return -1, &types.CliNotFoundError{Kind: model.Kind}
	}

	out, timedOut := e.stream(spawnCtx, proc, outputFile)

	var exitCode int
	var waitErr error
	if timedOut {
		_ = proc.Kill(e.cfg.KillGrace)
		exitCode, waitErr = proc.Wait()
	} else {
		exitCode, waitErr = proc.Wait()
	}
	_ = waitErr

	if classifyErr := e.classify(model, strategy, prepared.DisplayName, out, exitCode, timedOut, callTimeout); classifyErr != nil {
		e.cfg.Selector.RecordFailure(model.Name)
		return -1, classifyErr
	}

	e.cfg.Selector.RecordSuccess(model.Name)
	return 0, nil
}

// stream copies child output to outputFile and the configured log sink,
// returning the full captured text and whether the context's deadline
// fired before the child closed its output (§4.6 step d-e).
func (e *Executor) stream(ctx context.Context, proc *spawner.Process, outputFile string) (string, bool) {
	f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		defer f.Close()
	}

	var sb strings.Builder
	var w *bufio.Writer
	if f != nil {
		w = bufio.NewWriter(f)
		defer w.Flush()
	}

	for {
		select {
		case line, more := <-proc.Output:
			if !more {
				return sb.String(), false
			}
			sb.WriteString(line.Text)
			sb.WriteByte('\n')
			if w != nil {
				fmt.Fprintln(w, line.Text)
			}
			if e.cfg.LogSink != nil {
				fmt.Fprintln(e.cfg.LogSink, line.Text)
			}
		case <-ctx.Done():
			// Drain whatever is already buffered before reporting timeout.
			for {
				select {
				case line, more := <-proc.Output:
					if !more {
						return sb.String(), true
					}
					sb.WriteString(line.Text)
					sb.WriteByte('\n')
				default:
					return sb.String(), true
				}
			}
		}
	}
}

// classify implements §4.6 step f's ordered checks, returning nil on
// success. The caller never distinguishes a class beyond the returned
// error's dynamic type — types.Classify does that downstream, in the
// resilience runner.
func (e *Executor) classify(model types.ModelConfig, strategy *Strategy, displayName, output string, exitCode int, timedOut bool, callTimeout time.Duration) error {
	if timedOut {
		return &types.TimeoutError{CliDisplayName: displayName, After: callTimeout}
	}

	if MatchesAny(output, strategy.RateLimitPatterns) {
		return &types.RateLimitError{CliDisplayName: displayName, Detail: "vendor rate-limit pattern matched"}
	}

	if MatchesAny(output, strategy.QuotaPatterns) {
		e.cfg.Selector.SwitchToFallback()
		return &types.QuotaExceededError{CliDisplayName: displayName, Detail: "vendor quota/billing pattern matched"}
	}

	if model.Kind == types.CliOpencode && strategy.DetectCacheCorruption != nil && strategy.DetectCacheCorruption(output) {
		cleared, _ := strategy.ClearCache()
		return &types.CacheCorruptionError{CliDisplayName: displayName, Cleared: cleared}
	}

	if exitCode != 0 {
		return &types.FatalError{Msg: fmt.Sprintf("%s: CLI exited with code %d", displayName, exitCode)}
	}

	return nil
}

// Shutdown releases every tracked pool slot and rejects any waiters with
// pool.ErrShutdown (§5 cancellation: "release all tracked pool slots").
// Killing in-flight children and stopping the log watcher are the
// caller's responsibility (they own the spawner context and the
// healer), since the Executor itself holds neither.
func (e *Executor) Shutdown() {
	e.cfg.Pools.Shutdown()
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
