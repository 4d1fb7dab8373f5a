// Package types holds the shared data model used across the scheduler,
// selector, resilience runner, and healer: tasks, model configurations,
// and the closed error taxonomy they all classify against.
package types

// Priority is a task's scheduling class. It maps to a worker pool name
// when the task carries no feature tag of its own.
type Priority string

const (
	PriorityHigh       Priority = "high"
	PriorityMedium     Priority = "medium"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// PoolName returns the default pool name for this priority class.
// Unrecognized values fall back to medium, matching an unset priority.
func (p Priority) PoolName() string {
	switch p {
	case PriorityHigh, PriorityLow, PriorityBackground:
		return string(p)
	default:
		return string(PriorityMedium)
	}
}

// RetryMeta tracks how many times a task has already been attempted by
// the external driver, ahead of any retries the resilience runner itself
// performs within a single execution.
type RetryMeta struct {
	Attempt    int
	MaxAttempts int
}

// Task is the minimal read-only view the core borrows from the external
// task backend during execution. Ownership of the record stays with the
// backend; the core never mutates it.
type Task struct {
	ID       string
	Priority Priority
	Feature  string // optional pool-routing tag; empty means "use priority"
	Retry    RetryMeta
}

// PoolName resolves which worker pool this task should acquire a slot
// from: the feature tag takes precedence when a pool by that name
// exists, otherwise the priority class's pool, per §4.6 step 2.
func (t Task) PoolName(poolExists func(name string) bool) string {
	if t.Feature != "" && poolExists(t.Feature) {
		return t.Feature
	}
	return t.Priority.PoolName()
}
