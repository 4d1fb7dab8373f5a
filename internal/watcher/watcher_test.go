package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, w *Watcher, n int, timeout time.Duration) []string {
	t.Helper()
	var got []string
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case line := <-w.Lines:
			got = append(got, line.Text)
		case err := <-w.Errors:
			t.Fatalf("unexpected watcher error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for %d lines, got %v", n, got)
		}
	}
	return got
}

func TestWatcherIgnoresExistingContentAndEmitsAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("preexisting\n"), 0o644))

	w, err := New(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("line one\nline two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := collect(t, w, 2, 2*time.Second)
	require.Equal(t, []string{"line one", "line two"}, got)
}

func TestWatcherHandlesTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("aaaaaaaaaa\n"), 0o644))

	w, err := New(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))

	got := collect(t, w, 1, 2*time.Second)
	require.Equal(t, []string{"new"}, got)
}

func TestWatcherRetainsPartialLineAcrossFlushes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	w, err := New(path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("partial")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	time.Sleep(50 * time.Millisecond)

	_, err = f.WriteString("-rest\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := collect(t, w, 1, 2*time.Second)
	require.Equal(t, []string{"partial-rest"}, got)
}
