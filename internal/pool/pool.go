// Package pool implements the worker pool manager of spec §4.4: bounded
// concurrency per named pool, gating child-process launches. Grounded on
// the teacher's internal/ai.Supervisor, which already gates AI calls
// through a golang.org/x/sync/semaphore.Weighted-shaped concurrencySem
// (Acquire/Release); this package generalizes that single semaphore into
// a named map of them, one per pool, plus the FIFO-with-timeout waiting
// discipline §4.4 calls the principled choice.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config declares one named pool at construction time.
type Config struct {
	Size         int // hard concurrency limit, >= 1
	Nice         int // OS nice-like priority hint passed to the spawner
	MemoryLimitMB int // soft memory budget; enforced by the executor, not the pool
}

// Slot is the opaque, process-lifetime-unique handle returned by Acquire.
// Per §9's "pseudo-PID slot identifiers" note, this is a monotonically
// increasing integer, independent of any real OS pid.
type Slot uint64

type slotInfo struct {
	pool      string
	taskID    string
	acquiredAt time.Time
}

// ErrShutdown is returned to any acquire in progress or pending when
// Shutdown is called.
var ErrShutdown = fmt.Errorf("pool manager is shutting down")

// ErrUnknownPool is returned when acquiring from a pool name that was
// never declared.
var ErrUnknownPool = fmt.Errorf("unknown pool")

// Manager gates slot acquisition across a fixed set of named pools
// declared at construction, per §4.4.
type Manager struct {
	defaultPool string
	configs     map[string]Config
	sems        map[string]*semaphore.Weighted

	mu       sync.Mutex
	nextSlot uint64
	active   map[Slot]slotInfo
	shutdown bool
	shutdownCh chan struct{}
}

// New constructs a Manager from a name->Config map and a default pool
// name, per §4.4's construction contract.
func New(pools map[string]Config, defaultPool string) *Manager {
	sems := make(map[string]*semaphore.Weighted, len(pools))
	for name, cfg := range pools {
		size := cfg.Size
		if size < 1 {
			size = 1
		}
		sems[name] = semaphore.NewWeighted(int64(size))
	}
	return &Manager{
		defaultPool: defaultPool,
		configs:     pools,
		sems:        sems,
		active:      make(map[Slot]slotInfo),
		shutdownCh:  make(chan struct{}),
	}
}

// GetPoolConfig returns the declared config for a pool name.
func (m *Manager) GetPoolConfig(name string) (Config, bool) {
	cfg, ok := m.configs[name]
	return cfg, ok
}

// PoolExists reports whether name was declared at construction — used by
// types.Task.PoolName to decide feature-tag routing (§4.6 step 2).
func (m *Manager) PoolExists(name string) bool {
	_, ok := m.configs[name]
	return ok
}

// Acquire reserves a slot in poolName (or the default pool if empty),
// blocking FIFO until one is free, ctx is canceled, or timeout elapses
// (0 means wait forever). It returns ErrUnknownPool for an undeclared
// pool and ErrShutdown if the manager has been shut down.
func (m *Manager) Acquire(ctx context.Context, poolName string, taskID string, timeout time.Duration) (Slot, error) {
	if poolName == "" {
		poolName = m.defaultPool
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return 0, ErrShutdown
	}
	sem, ok := m.sems[poolName]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPool, poolName)
	}

	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		acquireCtx, timeoutCancel = context.WithTimeout(acquireCtx, timeout)
		defer timeoutCancel()
	}
	// Unblock the waiter immediately if Shutdown runs while it waits.
	go func() {
		select {
		case <-m.shutdownCh:
			cancel()
		case <-acquireCtx.Done():
		}
	}()

	// semaphore.Weighted.Acquire already serves waiters FIFO internally.
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		select {
		case <-m.shutdownCh:
			return 0, ErrShutdown
		default:
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("acquire %q: timed out waiting for a slot: %w", poolName, err)
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		sem.Release(1)
		return 0, ErrShutdown
	}
	m.nextSlot++
	slot := Slot(m.nextSlot)
	m.active[slot] = slotInfo{pool: poolName, taskID: taskID, acquiredAt: time.Now()}
	m.mu.Unlock()

	return slot, nil
}

// Release returns a slot to its pool. Releasing an unknown or
// already-released slot is a no-op (guards against double-release bugs
// surfacing as a crash instead of silently ignored).
func (m *Manager) Release(slot Slot) {
	m.mu.Lock()
	info, ok := m.active[slot]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, slot)
	m.mu.Unlock()

	if sem, ok := m.sems[info.pool]; ok {
		sem.Release(1)
	}
}

// Stats reports current active-slot counts per pool.
type Stats struct {
	Active map[string]int
	Size   map[string]int
}

// GetStats returns a snapshot of active-slot counts across all pools.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]int, len(m.configs))
	size := make(map[string]int, len(m.configs))
	for name, cfg := range m.configs {
		size[name] = cfg.Size
	}
	for _, info := range m.active {
		active[info.pool]++
	}
	return Stats{Active: active, Size: size}
}

// Shutdown releases all tracked slots and rejects any pending/future
// waiters with ErrShutdown (§4.4, §5 cancellation).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	close(m.shutdownCh)
	slots := make([]Slot, 0, len(m.active))
	for s := range m.active {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		m.Release(s)
	}
}
