package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-dev/taskrunner/internal/selector"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, selector.StrategyRoundRobin, cfg.Strategy)
	assert.Equal(t, "medium", cfg.DefaultPool)
	assert.Contains(t, cfg.Pools, "medium")
}

func TestLoadParsesModelsAndPools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskrunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(Example()), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Primary, 1)
	assert.Equal(t, "claude-main", cfg.Primary[0].Name)
	assert.Equal(t, types.CliClaude, cfg.Primary[0].Kind)
	assert.True(t, cfg.Primary[0].Enabled)

	require.Len(t, cfg.Fallback, 1)
	assert.Equal(t, types.CliGemini, cfg.Fallback[0].Kind)

	assert.Equal(t, 4, cfg.Pools["high"].Size)
	assert.Equal(t, 2000, cfg.RateLimitWaitMs)
}

func TestLoadDisabledModelIsPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskrunner.yaml")
	doc := `
primary:
  - name: m1
    kind: claude
    model: x
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Primary, 1)
	assert.False(t, cfg.Primary[0].Enabled)
}
