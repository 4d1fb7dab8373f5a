package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

func openTestDB(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskrunner.db")
	b, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEnqueueAndClaimInPriorityOrder(t *testing.T) {
	b := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, types.Task{ID: "low1", Priority: types.PriorityLow}))
	require.NoError(t, b.Enqueue(ctx, types.Task{ID: "high1", Priority: types.PriorityHigh}))

	task, ok, err := b.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high1", task.ID)

	task, ok, err = b.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "low1", task.ID)

	_, ok, err = b.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnqueueDuplicateIsIgnored(t *testing.T) {
	b := openTestDB(t)
	ctx := context.Background()

	task := types.Task{ID: "dup", Priority: types.PriorityMedium}
	require.NoError(t, b.Enqueue(ctx, task))
	require.NoError(t, b.Enqueue(ctx, task))

	_, ok, err := b.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate enqueue must not create a second row")
}

func TestMarkDonePersistsOutcome(t *testing.T) {
	b := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, types.Task{ID: "t1", Priority: types.PriorityHigh}))
	_, ok, err := b.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.MarkDone(ctx, "t1", 0, nil))

	var done, exitCode int
	row := b.db.QueryRowContext(ctx, `SELECT done, exit_code FROM tasks WHERE id = ?`, "t1")
	require.NoError(t, row.Scan(&done, &exitCode))
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, exitCode)
}
