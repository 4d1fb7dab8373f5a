package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

func TestMemoryDrainsInPriorityOrder(t *testing.T) {
	m := NewMemory()
	m.Enqueue(types.Task{ID: "low1", Priority: types.PriorityLow})
	m.Enqueue(types.Task{ID: "high1", Priority: types.PriorityHigh})
	m.Enqueue(types.Task{ID: "med1", Priority: types.PriorityMedium})

	ctx := context.Background()
	first, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high1", first.ID)

	second, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "med1", second.ID)

	third, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "low1", third.ID)

	_, ok, err = m.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryMarkDoneRecordsOutcome(t *testing.T) {
	m := NewMemory()
	id := m.Enqueue(types.Task{Priority: types.PriorityMedium})

	ctx := context.Background()
	_, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.MarkDone(ctx, id, 0, nil))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Done)
	assert.Equal(t, 0, snap[0].ExitCode)
	assert.NoError(t, snap[0].Err)
}

func TestMemoryMarkDoneUnknownTask(t *testing.T) {
	m := NewMemory()
	err := m.MarkDone(context.Background(), "nope", 1, errors.New("boom"))
	assert.Error(t, err)
}

func TestMemoryAutoAssignsID(t *testing.T) {
	m := NewMemory()
	id := m.Enqueue(types.Task{Priority: types.PriorityHigh})
	assert.NotEmpty(t, id)

	task, ok, err := m.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, task.ID)
}
