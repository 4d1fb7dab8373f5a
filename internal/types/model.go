package types

import "time"

// CliKind identifies which external AI command a ModelConfig launches.
// The enumeration is closed over the seven vendors the executor ships
// strategies for, but user configs may name any string here — an unknown
// kind simply has no strategy registered and fails CLI lookup at execute
// time rather than at load time (vendors are added by registering a
// strategy, not by extending this type).
type CliKind string

const (
	CliClaude   CliKind = "claude"
	CliOpencode CliKind = "opencode"
	CliGemini   CliKind = "gemini"
	CliDroid    CliKind = "droid"
	CliCrush    CliKind = "crush"
	CliKimi     CliKind = "kimi"
	CliKilocode CliKind = "kilocode"
)

// ModelConfig is an immutable, loaded-once description of one model the
// selector may hand out. Two ModelConfigs with the same Name are expected
// never to coexist in the same pool.
type ModelConfig struct {
	Name        string // logical name, unique within its pool; selector/breaker key
	DisplayName string
	Kind        CliKind
	Model       string            // concrete model identifier string passed to the CLI
	ExtraArgs   []string          // optional extra argv entries
	Env         map[string]string // optional environment overrides
	Timeout     time.Duration     // optional per-call timeout; zero means "use caller default"
	CostWeight  int               // lower is cheaper; zero means "unset", resolved to 50 by the selector
	Enabled     bool
}

// EffectiveCostWeight returns the cost weight used by the cost-aware
// selection strategy, defaulting absent (zero) weights to 50 per §4.3.
func (m ModelConfig) EffectiveCostWeight() int {
	if m.CostWeight == 0 {
		return 50
	}
	return m.CostWeight
}
