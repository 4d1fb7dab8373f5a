// Package sqlite is the reference persistent Backend implementation for
// `taskrunner run` (spec §1 keeps the task backend pluggable/external;
// this is the concrete reference the CLI ships, in the same spirit as
// the teacher's internal/storage/sqlite.SQLiteStorage). Grounded on that
// file's New/schema/db.Exec shape, swapping mattn/go-sqlite3's cgo
// driver for github.com/ncruces/go-sqlite3's pure-Go, wazero-backed
// database/sql driver — the driver the teacher's go.mod already
// carries as a direct dependency.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/loopwork-dev/taskrunner/internal/backend"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

var _ backend.Backend = (*Backend)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	priority TEXT NOT NULL DEFAULT 'medium',
	feature TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 0,
	queued INTEGER NOT NULL DEFAULT 1,
	done INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_queued_priority ON tasks(queued, priority);
`

// priorityOrder mirrors backend.priorityRank's drain order in SQL form:
// high, medium, low, background.
const priorityOrder = `CASE priority
	WHEN 'high' THEN 0
	WHEN 'medium' THEN 1
	WHEN 'low' THEN 2
	WHEN 'background' THEN 3
	ELSE 1
END`

// Backend is a SQLite-backed implementation of backend.Backend.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Enqueue inserts a task record, ignoring (not erroring on) a duplicate
// ID so callers can re-seed idempotently.
func (b *Backend) Enqueue(ctx context.Context, task types.Task) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tasks (id, priority, feature, attempt, max_attempts, queued, done)
		VALUES (?, ?, ?, ?, ?, 1, 0)
		ON CONFLICT(id) DO NOTHING
	`, task.ID, string(task.Priority), task.Feature, task.Retry.Attempt, task.Retry.MaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Next returns the highest-priority still-queued task, atomically
// marking it un-queued so a concurrent caller cannot also claim it.
func (b *Backend) Next(ctx context.Context) (types.Task, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Task{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var task types.Task
	var priority string
	row := tx.QueryRowContext(ctx, `
		SELECT id, priority, feature, attempt, max_attempts
		FROM tasks
		WHERE queued = 1
		ORDER BY `+priorityOrder+`, created_at ASC
		LIMIT 1
	`)
	if err := row.Scan(&task.ID, &priority, &task.Feature, &task.Retry.Attempt, &task.Retry.MaxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return types.Task{}, false, nil
		}
		return types.Task{}, false, fmt.Errorf("scan next task: %w", err)
	}
	task.Priority = types.Priority(priority)

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET queued = 0 WHERE id = ?`, task.ID); err != nil {
		return types.Task{}, false, fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return types.Task{}, false, fmt.Errorf("commit claim: %w", err)
	}
	return task, true, nil
}

// QueueStats summarizes the task table for `taskrunner status`.
type QueueStats struct {
	Queued int
	Done   int
	Failed int
}

// Stats tallies queued, completed, and failed task counts.
func (b *Backend) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	row := b.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN queued = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN done = 1 AND exit_code = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN done = 1 AND exit_code != 0 THEN 1 ELSE 0 END)
		FROM tasks
	`)
	var queued, done, failed sql.NullInt64
	if err := row.Scan(&queued, &done, &failed); err != nil {
		return QueueStats{}, fmt.Errorf("query stats: %w", err)
	}
	stats.Queued = int(queued.Int64)
	stats.Done = int(done.Int64)
	stats.Failed = int(failed.Int64)
	return stats, nil
}

// MarkDone records a task's outcome.
func (b *Backend) MarkDone(ctx context.Context, taskID string, exitCode int, execErr error) error {
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	_, err := b.db.ExecContext(ctx, `
		UPDATE tasks SET done = 1, exit_code = ?, error = ? WHERE id = ?
	`, exitCode, errText, taskID)
	if err != nil {
		return fmt.Errorf("mark task %s done: %w", taskID, err)
	}
	return nil
}
