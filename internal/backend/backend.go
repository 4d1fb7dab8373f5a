// Package backend defines the pluggable task-backend collaborator the
// core borrows tasks from (spec §1 "Deliberately out of scope... the
// task backend (persistence of task records - a pluggable interface)").
// The core never mutates a Task; it only reads the minimal view of §3
// and reports outcomes back through MarkDone. Grounded on the teacher's
// internal/storage.Storage interface shape (a narrow, backend-agnostic
// contract with an in-memory test double and a SQLite-backed
// production implementation living in its own sub-package).
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

// Backend is the minimal contract the CLI executor's caller needs: pull
// the next queued task, and report back whether its execution
// succeeded. Ownership of the underlying record stays with the backend
// (spec §3 "the core borrows it read-only during execution").
type Backend interface {
	// Next returns the next queued task in priority order, or
	// (zero, false, nil) when the queue is empty.
	Next(ctx context.Context) (types.Task, bool, error)

	// MarkDone records the outcome of a task's execution: its exit code
	// and the error that ended it, if any.
	MarkDone(ctx context.Context, taskID string, exitCode int, execErr error) error
}

// priorityRank orders priority classes the way a human operator expects
// a queue to drain: high before medium before low before background.
var priorityRank = map[types.Priority]int{
	types.PriorityHigh:       0,
	types.PriorityMedium:     1,
	types.PriorityLow:        2,
	types.PriorityBackground: 3,
}

func rank(p types.Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[types.PriorityMedium]
}

// record is the in-memory backend's internal bookkeeping for one task:
// the borrowed view plus whatever outcome has been reported so far.
type record struct {
	task     types.Task
	queued   bool
	exitCode int
	err      error
	done     bool
}

// Memory is an in-memory Backend, the reference implementation tests and
// small single-shot runs use in place of a real persistence layer.
type Memory struct {
	mu      sync.Mutex
	records map[string]*record
	order   []string
}

// NewMemory constructs an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*record)}
}

// Enqueue adds a task to the backend, minting a uuid-based ID when the
// caller leaves task.ID empty, and returns the ID used.
func (m *Memory) Enqueue(task types.Task) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	m.records[task.ID] = &record{task: task, queued: true}
	m.order = append(m.order, task.ID)
	return task.ID
}

// Next returns the highest-priority still-queued task, ties broken by
// enqueue order.
func (m *Memory) Next(ctx context.Context) (types.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Task{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if r, ok := m.records[id]; ok && r.queued {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return types.Task{}, false, nil
	}

	sort.SliceStable(ids, func(i, j int) bool {
		return rank(m.records[ids[i]].task.Priority) < rank(m.records[ids[j]].task.Priority)
	})

	chosen := ids[0]
	r := m.records[chosen]
	r.queued = false
	return r.task, true, nil
}

// MarkDone records a task's outcome.
func (m *Memory) MarkDone(ctx context.Context, taskID string, exitCode int, execErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[taskID]
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	r.done = true
	r.exitCode = exitCode
	r.err = execErr
	return nil
}

// Status is a snapshot of one task's bookkeeping in the in-memory
// backend, used by tests asserting on terminal outcomes.
type Status struct {
	Task     types.Task
	Queued   bool
	Done     bool
	ExitCode int
	Err      error
}

// Snapshot returns every task's current status, in enqueue order.
func (m *Memory) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		out = append(out, Status{Task: r.task, Queued: r.queued, Done: r.done, ExitCode: r.exitCode, Err: r.err})
	}
	return out
}
