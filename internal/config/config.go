// Package config loads the model/pool/strategy declarations the
// scheduler, selector, and executor otherwise assume exist "at
// construction" (spec §3, §4.4). Grounded on the teacher's
// internal/discovery/config.go and internal/health/config.go
// (YAML-file-to-typed-struct loaders with a ToConfig conversion step),
// generalized to read through github.com/spf13/viper instead of a bare
// yaml.Unmarshal call so the project-local config file also picks up
// LOOPWORK_-prefixed environment overrides the way viper's
// AutomaticEnv does.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loopwork-dev/taskrunner/internal/pool"
	"github.com/loopwork-dev/taskrunner/internal/selector"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

// DefaultConfigPath is the project-local config file §6 assumes sits
// alongside the .loopwork/ai-monitor state directory.
const DefaultConfigPath = ".loopwork/taskrunner.yaml"

// ModelFile is one model entry as it appears in the YAML document.
type ModelFile struct {
	Name        string            `mapstructure:"name"`
	DisplayName string            `mapstructure:"display_name"`
	Kind        string            `mapstructure:"kind"`
	Model       string            `mapstructure:"model"`
	ExtraArgs   []string          `mapstructure:"extra_args"`
	Env         map[string]string `mapstructure:"env"`
	TimeoutSecs int               `mapstructure:"timeout_seconds"`
	CostWeight  int               `mapstructure:"cost_weight"`
	Enabled     *bool             `mapstructure:"enabled"`
}

// PoolFile is one named worker pool entry.
type PoolFile struct {
	Size          int `mapstructure:"size"`
	Nice          int `mapstructure:"nice"`
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`
}

// File mirrors the on-disk shape of .loopwork/taskrunner.yaml: primary
// and fallback model lists, the selector strategy, named worker pools,
// and the healer's tunables.
type File struct {
	Strategy        string              `mapstructure:"strategy"`
	Primary         []ModelFile         `mapstructure:"primary"`
	Fallback        []ModelFile         `mapstructure:"fallback"`
	Pools           map[string]PoolFile `mapstructure:"pools"`
	DefaultPool     string              `mapstructure:"default_pool"`
	RateLimitWaitMs int                 `mapstructure:"rate_limit_wait_ms"`
	StateDir        string              `mapstructure:"state_dir"`
}

// Config is the loaded, ready-to-construct-collaborators-from form of
// File: durations resolved, defaults applied.
type Config struct {
	Strategy        selector.Strategy
	Primary         []types.ModelConfig
	Fallback        []types.ModelConfig
	Pools           map[string]pool.Config
	DefaultPool     string
	RateLimitWaitMs int
	StateDir        string
}

// defaultPools is used whenever the config file declares no "pools"
// section, matching §4.6 step 2's priority-class-to-pool mapping.
func defaultPools() map[string]pool.Config {
	return map[string]pool.Config{
		"high":       {Size: 4, Nice: -5, MemoryLimitMB: 1024},
		"medium":     {Size: 2, Nice: 0, MemoryLimitMB: 768},
		"low":        {Size: 1, Nice: 5, MemoryLimitMB: 512},
		"background": {Size: 1, Nice: 10, MemoryLimitMB: 512},
	}
}

// Load reads path through viper, falling back to an empty-but-valid
// Config (default pools, no models) when the file does not exist —
// config scaffolding proper is out of scope (§1); this loader never
// refuses to start over a missing file.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{Pools: defaultPools(), DefaultPool: "medium", Strategy: selector.StrategyRoundRobin}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("loopwork")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&f, decodeHook); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	return f.resolve(), nil
}

// resolve converts the on-disk File into a ready Config, applying the
// same defaults the selector and pool manager would otherwise require
// the caller to supply by hand.
func (f File) resolve() Config {
	cfg := Config{
		Strategy:        selector.Strategy(f.Strategy),
		Primary:         resolveModels(f.Primary),
		Fallback:        resolveModels(f.Fallback),
		DefaultPool:     f.DefaultPool,
		RateLimitWaitMs: f.RateLimitWaitMs,
		StateDir:        f.StateDir,
	}
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyRoundRobin
	}
	if cfg.DefaultPool == "" {
		cfg.DefaultPool = "medium"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".loopwork/ai-monitor"
	}

	cfg.Pools = make(map[string]pool.Config, len(f.Pools))
	for name, p := range f.Pools {
		size := p.Size
		if size < 1 {
			size = 1
		}
		cfg.Pools[name] = pool.Config{Size: size, Nice: p.Nice, MemoryLimitMB: p.MemoryLimitMB}
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = defaultPools()
	}
	return cfg
}

func resolveModels(in []ModelFile) []types.ModelConfig {
	out := make([]types.ModelConfig, 0, len(in))
	for _, m := range in {
		enabled := true
		if m.Enabled != nil {
			enabled = *m.Enabled
		}
		out = append(out, types.ModelConfig{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Kind:        types.CliKind(m.Kind),
			Model:       m.Model,
			ExtraArgs:   m.ExtraArgs,
			Env:         m.Env,
			Timeout:     time.Duration(m.TimeoutSecs) * time.Second,
			CostWeight:  m.CostWeight,
			Enabled:     enabled,
		})
	}
	return out
}

// Example returns a sample .loopwork/taskrunner.yaml document. No
// taskrunner subcommand prints it (scaffolding stays external to the
// core per §1); it is a reference payload only.
func Example() string {
	return `# taskrunner model/pool configuration
strategy: round-robin   # round-robin | priority | cost-aware | random

primary:
  - name: claude-main
    kind: claude
    model: claude-sonnet-4-5-20250929
    cost_weight: 40
    enabled: true

fallback:
  - name: gemini-backup
    kind: gemini
    model: gemini-2.5-pro
    cost_weight: 20
    enabled: true

default_pool: medium
rate_limit_wait_ms: 2000

pools:
  high:
    size: 4
    nice: -5
    memory_limit_mb: 1024
  medium:
    size: 2
    nice: 0
    memory_limit_mb: 768
  low:
    size: 1
    nice: 5
    memory_limit_mb: 512
  background:
    size: 1
    nice: 10
    memory_limit_mb: 512

state_dir: .loopwork/ai-monitor
`
}
