package spawner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnEchoCollectsStdout(t *testing.T) {
	p, err := Spawn(context.Background(), "echo", []string{"hello", "world"}, Options{})
	require.NoError(t, err)

	var lines []string
	for line := range p.Output {
		lines = append(lines, line.Text)
	}
	code, err := p.Wait()
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, []string{"hello world"}, lines)
}

func TestSpawnNonZeroExit(t *testing.T) {
	p, err := Spawn(context.Background(), "sh", []string{"-c", "exit 3"}, Options{})
	require.NoError(t, err)
	for range p.Output {
	}
	code, err := p.Wait()
	require.Error(t, err)
	require.Equal(t, 3, code)
}

func TestSpawnStdinIsDelivered(t *testing.T) {
	p, err := Spawn(context.Background(), "cat", nil, Options{Stdin: []byte("from stdin")})
	require.NoError(t, err)

	var out string
	for line := range p.Output {
		out += line.Text
	}
	_, err = p.Wait()
	require.NoError(t, err)
	require.Equal(t, "from stdin", out)
}

func TestKillSendsSIGTERMThenSIGKILL(t *testing.T) {
	p, err := Spawn(context.Background(), "sleep", []string{"30"}, Options{})
	require.NoError(t, err)

	go func() {
		for range p.Output {
		}
	}()

	start := time.Now()
	require.NoError(t, p.Kill(50*time.Millisecond))
	<-p.Done()
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestContextTimeoutDoesNotSIGKILLImmediately(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Traps SIGTERM and prints a marker before sleeping again; a premature
	// SIGKILL (which cannot be trapped) would never let the marker print.
	script := `trap 'echo got-sigterm; sleep 30' TERM; sleep 30`
	p, err := Spawn(ctx, "sh", []string{"-c", script}, Options{})
	require.NoError(t, err)

	lines := make(chan Line, 16)
	go func() {
		for line := range p.Output {
			lines <- line
		}
		close(lines)
	}()

	<-ctx.Done()
	// Spawn must not react to ctx expiring on its own: the child stays
	// alive until the caller explicitly drives the kill sequence, the
	// way Executor.attempt does once its stream read observes timeout.
	select {
	case <-p.Done():
		t.Fatal("child exited on its own before any Kill call")
	case <-time.After(20 * time.Millisecond):
	}

	start := time.Now()
	require.NoError(t, p.Kill(200*time.Millisecond))
	<-p.Done()
	require.Less(t, time.Since(start), 5*time.Second)

	var got string
	for line := range lines {
		got += line.Text
	}
	require.Contains(t, got, "got-sigterm", "child must receive SIGTERM before being SIGKILLed")
}

func TestPTYFallsBackToPipe(t *testing.T) {
	require.False(t, ptyAvailable())
	p, err := Spawn(context.Background(), "echo", []string{"pty-fallback"}, Options{PTY: true})
	require.NoError(t, err)
	var got string
	for line := range p.Output {
		got += line.Text
	}
	_, err = p.Wait()
	require.NoError(t, err)
	require.Equal(t, "pty-fallback", got)
}
