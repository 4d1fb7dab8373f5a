package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loopwork-dev/taskrunner/internal/breaker"
	"github.com/loopwork-dev/taskrunner/internal/pattern"
	"github.com/loopwork-dev/taskrunner/internal/watcher"
)

// ActionExecutor carries out one pattern.Action against the running
// system (e.g. actually calling selector.SwitchToFallback, or writing a
// hint into a task's spec file). The healer calls it and records the
// returned success/failure into the wisdom store and the healer-scoped
// breaker; it never interprets Action.Kind itself beyond dispatch.
type ActionExecutor func(ctx context.Context, m pattern.Match) (ok bool, err error)

// TaskEnhancer writes a hint back into a task's spec file for the
// recovery path (§4.9's "enhance-task" action). taskID identifies the
// task; hint is free-form guidance derived from the log tail analysis.
type TaskEnhancer func(ctx context.Context, taskID, hint string) error

// Config wires a Healer's collaborators and state paths (all under a
// project-local state directory, conventionally .loopwork/ai-monitor/
// per §6).
type Config struct {
	LogPath  string
	StateDir string

	Patterns *pattern.Engine // nil uses pattern.New()
	Breaker  breaker.Config  // healer-scoped breaker thresholds

	Analyzer AnalyzerConfig

	Execute  ActionExecutor // nil: autoActions are recorded but not carried out
	Enhance  TaskEnhancer   // nil: enhance-task actions are recorded but not written
}

// DefaultStateDir is the §6 convention.
const DefaultStateDir = ".loopwork/ai-monitor"

// Healer is the §4.9 subsystem: it owns a watcher, a pattern engine, a
// healer-scoped circuit breaker, the persisted monitor state, and the
// wisdom store (§3: "the healer owns the watcher, pattern engine,
// monitor state, and wisdom store"). Grounded on the teacher's
// internal/watchdog.Watchdog lifecycle.
type Healer struct {
	cfg Config

	w        *watcher.Watcher
	patterns *pattern.Engine
	cb       *breaker.Breaker
	state    *MonitorState
	wisdom   *WisdomStore
	cache    *LLMCache
	analyzer *Analyzer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New constructs a Healer without starting it.
func New(cfg Config) (*Healer, error) {
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}

	w, err := watcher.New(cfg.LogPath, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("create log watcher: %w", err)
	}

	patterns := cfg.Patterns
	if patterns == nil {
		patterns = pattern.New()
	}

	state, err := LoadMonitorState(filepath.Join(cfg.StateDir, "monitor-state.json"))
	if err != nil {
		return nil, fmt.Errorf("load monitor state: %w", err)
	}
	wisdom, err := LoadWisdomStore(filepath.Join(cfg.StateDir, "wisdom.json"))
	if err != nil {
		return nil, fmt.Errorf("load wisdom store: %w", err)
	}
	cache, err := LoadLLMCache(filepath.Join(cfg.StateDir, "llm-cache.json"))
	if err != nil {
		return nil, fmt.Errorf("load llm cache: %w", err)
	}

	cb := breaker.New(cfg.Breaker, nil)
	if len(state.BreakerState) > 0 {
		restoreBreakerState(cb, state.BreakerState)
	}

	return &Healer{
		cfg:      cfg,
		w:        w,
		patterns: patterns,
		cb:       cb,
		state:    state,
		wisdom:   wisdom,
		cache:    cache,
		analyzer: NewAnalyzer(cfg.Analyzer, cache, state),
	}, nil
}

// Start begins watching the log and dispatching matches (§4.9).
func (h *Healer) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("healer already running")
	}

	if err := h.w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true
	h.wg.Add(1)
	go h.loop()
	return nil
}

// Stop ends the watch and flushes persisted state (§5: "stop the
// watcher, flush and persist monitor/wisdom state").
func (h *Healer) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	if err := h.w.Stop(); err != nil {
		return err
	}
	return h.persist()
}

func (h *Healer) persist() error {
	h.state.SetBreakerState(snapshotBreakerState(h.cb))
	if err := h.state.Save(); err != nil {
		return fmt.Errorf("save monitor state: %w", err)
	}
	if err := h.wisdom.Save(); err != nil {
		return fmt.Errorf("save wisdom store: %w", err)
	}
	if err := h.cache.Save(); err != nil {
		return fmt.Errorf("save llm cache: %w", err)
	}
	return nil
}

// contextWindow is how many recent log lines loop keeps as context
// when escalating to the LLM fallback.
const contextWindow = 10

func (h *Healer) loop() {
	defer h.wg.Done()

	var recent []string

	for {
		select {
		case <-h.ctx.Done():
			return

		case line, ok := <-h.w.Lines:
			if !ok {
				return
			}
			recent = append(recent, line.Text)
			if len(recent) > contextWindow {
				recent = recent[len(recent)-contextWindow:]
			}
			h.handleLine(h.ctx, line.Text, recent)

		case <-h.w.Errors:
			// Watcher errors are non-fatal to the healer; the watcher
			// itself keeps running.
		}
	}
}

// handleLine implements §4.9's per-line dispatch.
func (h *Healer) handleLine(ctx context.Context, line string, recent []string) {
	if !h.cb.CanExecute() {
		return
	}

	m, matched := h.patterns.Match(line)
	if matched {
		h.state.RecordPattern(m.PatternName)
		ok := h.runAction(ctx, m)
		h.record(ok, Signature(m.PatternName))
		return
	}

	if !pattern.LooksLikeError.MatchString(line) {
		return
	}

	h.escalate(ctx, line, recent)
}

func (h *Healer) runAction(ctx context.Context, m pattern.Match) bool {
	if m.Action == nil || h.cfg.Execute == nil {
		return true
	}
	ok, err := h.cfg.Execute(ctx, m)
	if err != nil {
		ok = false
	}
	return ok
}

func (h *Healer) escalate(ctx context.Context, line string, recent []string) {
	errorHash := NormalizedErrorHash(line)
	if h.state.WasAnalyzed(errorHash) {
		return
	}
	h.state.MarkAnalyzed(errorHash)

	analysis, err := h.analyzer.Analyze(ctx, line, recent)
	ok := err == nil
	h.record(ok, Signature("llm-fallback", errorHash))
	if err != nil {
		return
	}
	_ = analysis // surfaced to callers via Analyzer's cache; the healer
	// itself only needs the success/failure signal for wisdom/breaker.
}

func (h *Healer) record(ok bool, signature string) {
	h.state.RecordAttempt(ok)
	if ok {
		h.cb.RecordSuccess()
		h.wisdom.RecordSuccess(signature, "")
	} else {
		h.cb.RecordFailure()
		h.wisdom.RecordFailure(signature)
	}
}

// HandleTaskFailure implements the §4.9 recovery path: fed from the
// executor on task failure, it analyzes the tail of the log and, if not
// already applied for this (taskID, exitReason) pair, emits an
// enhance-task action via the configured TaskEnhancer.
func (h *Healer) HandleTaskFailure(ctx context.Context, taskID, exitReason string, logTail []string) error {
	if h.state.RecoveryApplied(taskID, exitReason) {
		return nil
	}

	hint, err := h.deriveHint(ctx, exitReason, logTail)
	if err != nil {
		h.state.RecordRecovery(taskID, exitReason, false)
		return err
	}

	if h.cfg.Enhance != nil {
		if err := h.cfg.Enhance(ctx, taskID, hint); err != nil {
			h.state.RecordRecovery(taskID, exitReason, false)
			return fmt.Errorf("enhance task %s: %w", taskID, err)
		}
	}

	h.state.RecordRecovery(taskID, exitReason, true)
	return nil
}

func (h *Healer) deriveHint(ctx context.Context, exitReason string, logTail []string) (string, error) {
	tail := strings.Join(logTail, "\n")
	for _, p := range h.patterns.Patterns() {
		if p.Regex.MatchString(tail) {
			return fmt.Sprintf("previous attempt failed (%s): address %q before retrying", exitReason, p.Name), nil
		}
	}

	analysis, err := h.analyzer.Analyze(ctx, exitReason, logTail)
	if err != nil {
		return fmt.Sprintf("previous attempt failed: %s", exitReason), nil
	}
	if len(analysis.SuggestedFixes) == 0 {
		return analysis.RootCause, nil
	}
	return fmt.Sprintf("%s: %s", analysis.RootCause, strings.Join(analysis.SuggestedFixes, "; ")), nil
}

// snapshotBreakerState serializes the breaker's state, consecutive-failure
// count, and totals. restoreBreakerState uses only the consecutive-failure
// count: it replays that many failures against the fresh breaker, so a
// breaker saved at or past its threshold comes back open with its
// ResetTimeout counted from process start. The saved state name and
// totals are not restored, and timestamps are not preserved.
type breakerSnapshot struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Successes           int64  `json:"successes"`
	Failures            int64  `json:"failures"`
}

func snapshotBreakerState(cb *breaker.Breaker) json.RawMessage {
	state, consecutive, successes, failures := cb.Metrics()
	data, err := json.Marshal(breakerSnapshot{
		State:               state.String(),
		ConsecutiveFailures: consecutive,
		Successes:           successes,
		Failures:            failures,
	})
	if err != nil {
		return nil
	}
	return data
}

func restoreBreakerState(cb *breaker.Breaker, raw json.RawMessage) {
	var snap breakerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return
	}
	for i := 0; i < snap.ConsecutiveFailures; i++ {
		cb.RecordFailure()
	}
}
