// Package breaker implements the per-key closed/open/half-open circuit
// breaker of spec §4.2, generalized from the teacher's single-breaker
// internal/ai.CircuitBreaker into a registry keyed by model name so the
// selector (internal/selector) can hold one breaker per model.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock is the monotonic time source a Breaker reads from. Tests inject
// a fake clock; production uses realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes one breaker's thresholds.
//
// The half-open gate below is a hand-rolled in-flight counter rather than
// a golang.org/x/time/rate limiter: it admits exactly HalfOpenMaxCalls
// concurrent probes per key with no replenishment, which is a concurrency
// cap, not a rate over time. See DESIGN.md's internal/resilience entry
// for the full rationale; x/time/rate is instead wired into the healer's
// Analyzer, where "N calls per interval" is the actual shape needed.
type Config struct {
	FailureThreshold int           // consecutive failures before closed -> open
	ResetTimeout     time.Duration // time in open before a probe is allowed
	HalfOpenMaxCalls int           // concurrent probes allowed while half-open
}

// DefaultConfig matches the teacher's DefaultRetryConfig breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a single key's state machine (§4.2).
type Breaker struct {
	cfg   Config
	clock Clock

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastFailure      time.Time
	successes        int64
	failures         int64
	halfOpenInFlight int
}

// New creates a breaker with the given config and clock. A nil clock
// uses wall-clock time.
func New(cfg Config, clock Clock) *Breaker {
	if clock == nil {
		clock = realClock{}
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{cfg: cfg, clock: clock, state: Closed}
}

// CanExecute reports whether a call should be allowed through. In open
// state it first runs the lazy open->half-open transition if
// ResetTimeout has elapsed since the last failure (§4.2).
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.transitionTo(HalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxCalls {
			b.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call. In closed state it decrements
// the consecutive-failure counter toward zero; in half-open it closes
// the breaker immediately (§4.2: "half-open -> closed on any recorded
// success while half-open").
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if b.consecutiveFails > 0 {
			b.consecutiveFails--
		}
	case HalfOpen:
		b.transitionTo(Closed)
		b.consecutiveFails = 0
		b.halfOpenInFlight = 0
	}
	b.successes++
}

// RecordFailure records a failed call and returns true if this call is
// the one that opened the circuit.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.clock.Now()

	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.transitionTo(Open)
			return true
		}
		return false
	case HalfOpen:
		b.transitionTo(Open)
		b.halfOpenInFlight = 0
		return true
	default:
		return false
	}
}

// State returns the current state without mutating it (query only; does
// not run the lazy open->half-open transition — use CanExecute for that).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker's counters.
func (b *Breaker) Metrics() (state State, consecutiveFailures int, successes, failures int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFails, b.successes, b.failures
}

// Reset returns the breaker to a freshly-constructed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFails = 0
	b.successes = 0
	b.failures = 0
	b.halfOpenInFlight = 0
	b.lastFailure = time.Time{}
}

func (b *Breaker) transitionTo(s State) {
	b.state = s
}
