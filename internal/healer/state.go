// Package healer implements the log-watching healer/wisdom subsystem of
// spec §4.9: it subscribes to a watcher.Watcher, matches lines through a
// pattern.Engine, executes or escalates corrective actions, and persists
// session state across runs. Grounded on the teacher's
// internal/watchdog.Watchdog (ctx/cancel/wg lifecycle around a
// background loop, config-driven enable/disable) and
// internal/ai/recovery.go (AI-generated recovery strategy from a typed
// prompt, parsed back into a typed result) for the LLM-fallback path.
package healer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Counters are the running {attempts, successes, failures} totals §3
// names as part of the Monitor state.
type Counters struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// RecoveryEntry records one applied (taskId, exitReason) enhancement
// (§4.9: "applied at most once per (task, reason) pair").
type RecoveryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

type recoveryKey struct {
	TaskID     string
	ExitReason string
}

// MonitorState is the persisted JSON of §3/§6: monitor-state.json,
// fields exactly as listed there.
type MonitorState struct {
	mu sync.Mutex `json:"-"`

	TotalLLMCalls   int            `json:"totalLlmCalls"`
	LastCallAt      time.Time      `json:"lastCallAt"`
	PatternHistogram map[string]int `json:"patternHistogram"`
	AnalyzedHashes  map[string]bool `json:"analyzedHashes"`
	BreakerState    json.RawMessage `json:"breakerState,omitempty"`
	RecoveryHistory map[string]RecoveryEntry `json:"recoveryHistory"`
	Counters        Counters       `json:"counters"`

	path string
}

// NewMonitorState builds an empty, in-memory MonitorState rooted at
// path (the file it will be loaded from / saved to).
func NewMonitorState(path string) *MonitorState {
	return &MonitorState{
		PatternHistogram: make(map[string]int),
		AnalyzedHashes:   make(map[string]bool),
		RecoveryHistory:  make(map[string]RecoveryEntry),
		path:             path,
	}
}

// LoadMonitorState reads path if present, else returns a fresh state
// (§3: "initialized per process, loaded on config-load").
func LoadMonitorState(path string) (*MonitorState, error) {
	s := NewMonitorState(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var onDisk struct {
		TotalLLMCalls    int                      `json:"totalLlmCalls"`
		LastCallAt       time.Time                `json:"lastCallAt"`
		PatternHistogram map[string]int           `json:"patternHistogram"`
		AnalyzedHashes   map[string]bool          `json:"analyzedHashes"`
		BreakerState     json.RawMessage          `json:"breakerState,omitempty"`
		RecoveryHistory  map[string]RecoveryEntry `json:"recoveryHistory"`
		Counters         Counters                 `json:"counters"`
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, err
	}

	s.TotalLLMCalls = onDisk.TotalLLMCalls
	s.LastCallAt = onDisk.LastCallAt
	if onDisk.PatternHistogram != nil {
		s.PatternHistogram = onDisk.PatternHistogram
	}
	if onDisk.AnalyzedHashes != nil {
		s.AnalyzedHashes = onDisk.AnalyzedHashes
	}
	s.BreakerState = onDisk.BreakerState
	if onDisk.RecoveryHistory != nil {
		s.RecoveryHistory = onDisk.RecoveryHistory
	}
	s.Counters = onDisk.Counters
	return s, nil
}

// Save persists state to its path, creating parent directories as
// needed (§3: "saved after every action and at loop end").
func (s *MonitorState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// RecordPattern bumps the detected-pattern histogram for name.
func (s *MonitorState) RecordPattern(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PatternHistogram[name]++
}

// RecordAttempt increments the attempts counter, and successes or
// failures depending on ok.
func (s *MonitorState) RecordAttempt(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Counters.Attempts++
	if ok {
		s.Counters.Successes++
	} else {
		s.Counters.Failures++
	}
}

// MarkAnalyzed records errorHash as already sent to the LLM fallback
// this session (§4.9 "a per-error deduplication set within the
// session").
func (s *MonitorState) MarkAnalyzed(errorHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AnalyzedHashes[errorHash] = true
}

// WasAnalyzed reports whether errorHash was already analyzed this
// session.
func (s *MonitorState) WasAnalyzed(errorHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AnalyzedHashes[errorHash]
}

// RecordLLMCall bumps the session call count and last-call timestamp
// (§4.9 "a per-session hard cap on analysis calls", "a cooldown
// interval between calls").
func (s *MonitorState) RecordLLMCall(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalLLMCalls++
	s.LastCallAt = at
}

// LLMCallCount and LastLLMCallAt are read-only snapshots for the
// per-session cap / cooldown checks in Analyzer.
func (s *MonitorState) LLMCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalLLMCalls
}

func (s *MonitorState) LastLLMCallAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastCallAt
}

// RecoveryApplied reports whether (taskID, exitReason) already has a
// recovery entry. It does not record anything; callers record the
// outcome with RecordRecovery (§8: "at most one enhancement action is
// applied per session").
func (s *MonitorState) RecoveryApplied(taskID, exitReason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recoveryMapKey(taskID, exitReason)
	_, exists := s.RecoveryHistory[key]
	return exists
}

// RecordRecovery stores the recovery outcome for (taskID, exitReason).
func (s *MonitorState) RecordRecovery(taskID, exitReason string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recoveryMapKey(taskID, exitReason)
	s.RecoveryHistory[key] = RecoveryEntry{Timestamp: time.Now(), Success: success}
}

func recoveryMapKey(taskID, exitReason string) string {
	return taskID + "\x00" + exitReason
}

// SetBreakerState stashes a serialized snapshot of the healer-scoped
// breaker so it survives process restarts (§3 "serialized global
// breaker state").
func (s *MonitorState) SetBreakerState(raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BreakerState = raw
}
