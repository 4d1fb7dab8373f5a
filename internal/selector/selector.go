// Package selector implements the model selector of spec §4.3: a
// strategy-driven chooser over a primary and fallback pool of model
// configs, consulting a per-model breaker registry before handing out a
// candidate. Grounded on the teacher's internal/ai retry/circuit-breaker
// pairing (one breaker gates one resource) generalized to many keys.
package selector

import (
	"math/rand"
	"sync"

	"github.com/loopwork-dev/taskrunner/internal/breaker"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

// Strategy picks a candidate from a non-empty pool.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyPriority   Strategy = "priority"
	StrategyCostAware  Strategy = "cost-aware"
	StrategyRandom     Strategy = "random"
)

// Config configures a Selector.
type Config struct {
	Primary  []types.ModelConfig
	Fallback []types.ModelConfig
	Strategy Strategy

	// CircuitBreakersEnabled gates candidates through the breaker
	// registry; tests that want to ignore breaker state set this false.
	CircuitBreakersEnabled bool
	BreakerConfig          breaker.Config
	Clock                  breaker.Clock

	// Rand supplies randomness for StrategyRandom; nil uses the global
	// math/rand source.
	Rand *rand.Rand
}

// Selector is the selector state of spec §3: two filtered pools, an
// index into each for round-robin, a fallback flag, a disabled-name set,
// per-model retry counters, and a breaker registry.
type Selector struct {
	mu sync.Mutex

	cfg      Config
	primary  []types.ModelConfig
	fallback []types.ModelConfig

	primaryIdx  int
	fallbackIdx int
	usingFallback bool

	disabled     map[string]bool
	retryCounts  map[string]int
	breakers     *breaker.Registry
}

// New constructs a Selector, filtering out any ModelConfig whose Enabled
// flag is false, per §4.3.
func New(cfg Config) *Selector {
	s := &Selector{
		cfg:         cfg,
		disabled:    make(map[string]bool),
		retryCounts: make(map[string]int),
		breakers:    breaker.NewRegistry(cfg.BreakerConfig, cfg.Clock),
	}
	s.primary = filterEnabled(cfg.Primary)
	s.fallback = filterEnabled(cfg.Fallback)
	return s
}

func filterEnabled(in []types.ModelConfig) []types.ModelConfig {
	out := make([]types.ModelConfig, 0, len(in))
	for _, m := range in {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// totalModelCount is primaryCount+fallbackCount as loaded at
// construction (enabled models only), used both as the selector's own
// exhaustion loop limit and by the executor to size its max-attempts
// budget (§4.6, §9 Open Questions).
func (s *Selector) totalModelCount() int {
	return len(s.primary) + len(s.fallback)
}

// TotalModelCount exposes totalModelCount to callers outside the package
// (the CLI executor needs it to size its retry budget).
func (s *Selector) TotalModelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalModelCount()
}

// GetNext returns the next model candidate, or (zero, false) if the
// selector is exhausted (§4.3).
func (s *Selector) GetNext() (types.ModelConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.totalModelCount()
	if limit == 0 {
		return types.ModelConfig{}, false
	}

	for i := 0; i < limit; i++ {
		pool := s.currentPoolLocked()
		if len(pool) == 0 {
			if !s.usingFallback && len(s.fallback) > 0 {
				s.usingFallback = true
				continue
			}
			return types.ModelConfig{}, false
		}

		candidate, ok := s.pickLocked(pool)
		if !ok {
			continue
		}

		if s.cfg.CircuitBreakersEnabled && !s.breakers.Get(candidate.Name).CanExecute() {
			continue
		}

		return candidate, true
	}

	return types.ModelConfig{}, false
}

// currentPoolLocked returns the primary or fallback pool, filtered of any
// disabled names, per §4.3. Caller must hold s.mu.
func (s *Selector) currentPoolLocked() []types.ModelConfig {
	source := s.primary
	if s.usingFallback {
		source = s.fallback
	}
	out := make([]types.ModelConfig, 0, len(source))
	for _, m := range source {
		if !s.disabled[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// pickLocked applies the configured strategy to a non-empty filtered
// pool. Caller must hold s.mu.
func (s *Selector) pickLocked(pool []types.ModelConfig) (types.ModelConfig, bool) {
	if len(pool) == 0 {
		return types.ModelConfig{}, false
	}

	switch s.cfg.Strategy {
	case StrategyPriority:
		return pool[0], true

	case StrategyCostAware:
		best := pool[0]
		for _, m := range pool[1:] {
			if m.EffectiveCostWeight() < best.EffectiveCostWeight() {
				best = m
			}
		}
		return best, true

	case StrategyRandom:
		idx := s.randIntn(len(pool))
		return pool[idx], true

	default: // StrategyRoundRobin
		idxPtr := &s.primaryIdx
		if s.usingFallback {
			idxPtr = &s.fallbackIdx
		}
		idx := *idxPtr % len(pool)
		*idxPtr = *idxPtr + 1
		return pool[idx], true
	}
}

func (s *Selector) randIntn(n int) int {
	if s.cfg.Rand != nil {
		return s.cfg.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// RecordSuccess clears the model's retry counter to zero and records a
// breaker success (§4.3).
func (s *Selector) RecordSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryCounts[name] = 0
	s.breakers.Get(name).RecordSuccess()
}

// RecordFailure increments the model's retry counter, forwards to the
// breaker, and adds the model to the disabled set if the breaker just
// opened. Returns true if this failure opened the breaker (§4.3).
func (s *Selector) RecordFailure(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryCounts[name]++
	opened := s.breakers.Get(name).RecordFailure()
	if opened {
		s.disabled[name] = true
	}
	return opened
}

// IsModelAvailable re-checks the model's breaker; if it now allows
// traffic (a half-open probe), the name is lazily removed from the
// disabled set (§4.3).
func (s *Selector) IsModelAvailable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.disabled[name] {
		return true
	}
	if s.breakers.Get(name).CanExecute() {
		delete(s.disabled, name)
		return true
	}
	return false
}

// SwitchToFallback moves the selector permanently into its fallback pool
// for the remainder of its lifetime (or until Reset).
func (s *Selector) SwitchToFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usingFallback = true
}

// UsingFallback reports whether the selector has switched to fallback.
func (s *Selector) UsingFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usingFallback
}

// Reset returns the selector to an observationally-equal state to a
// freshly constructed one with the same pools (§8 round-trip law).
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.primaryIdx = 0
	s.fallbackIdx = 0
	s.usingFallback = false
	s.disabled = make(map[string]bool)
	s.retryCounts = make(map[string]int)
	s.breakers = breaker.NewRegistry(s.cfg.BreakerConfig, s.cfg.Clock)
}

// ResetModel clears one model's disabled flag, retry counter, and breaker.
func (s *Selector) ResetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.disabled, name)
	s.retryCounts[name] = 0
	s.breakers.ResetKey(name)
}

// HealthStatus is a snapshot of one model's availability for reporting.
type HealthStatus struct {
	Name          string
	Disabled      bool
	RetryCount    int
	BreakerState  breaker.State
}

// GetHealthStatus returns a snapshot for every model in both pools.
func (s *Selector) GetHealthStatus() []HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]types.ModelConfig, 0, len(s.primary)+len(s.fallback))
	all = append(all, s.primary...)
	all = append(all, s.fallback...)

	out := make([]HealthStatus, 0, len(all))
	for _, m := range all {
		out = append(out, HealthStatus{
			Name:         m.Name,
			Disabled:     s.disabled[m.Name],
			RetryCount:   s.retryCounts[m.Name],
			BreakerState: s.breakers.Get(m.Name).State(),
		})
	}
	return out
}
