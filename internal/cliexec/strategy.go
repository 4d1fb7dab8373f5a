// Package cliexec implements the CLI executor of spec §4.6 and the
// per-cli-kind strategy table of §6. Grounded on the teacher's
// internal/executor.buildAmpCommand/buildClaudeCodeCommand (argv
// construction per agent type) and internal/ai/retry.go's classifyError
// (regex-based classification of vendor output), generalized from two
// hardcoded agent types into the closed-but-extensible table of seven
// cli-kinds §6 names.
package cliexec

import (
	"regexp"

	"github.com/loopwork-dev/taskrunner/internal/types"
)

// Prepared is what a Strategy.Prepare call produces: the argv/env/stdin
// the spawner needs plus a human-facing display name for error strings.
type Prepared struct {
	Argv        []string
	Env         map[string]string
	StdinInput  []byte
	DisplayName string
}

// Strategy is the pure per-cli-kind adapter of §3: it builds argv/env/
// stdin from a model config and prompt, and exposes vendor-specific
// rate-limit/quota regexes. DetectCacheCorruption and ClearCache are
// non-nil only for the opencode kind (§4.6 step f).
type Strategy struct {
	Kind CliKind

	Prepare func(model types.ModelConfig, prompt string, env map[string]string, permissions map[string]string) Prepared

	RateLimitPatterns []*regexp.Regexp
	QuotaPatterns     []*regexp.Regexp

	// DetectCacheCorruption and ClearCache are set only for opencode.
	DetectCacheCorruption func(output string) bool
	ClearCache            func() (bool, error)
}

// CliKind re-exports types.CliKind so callers of this package don't need
// to import internal/types just to name a strategy.
type CliKind = types.CliKind

// commonRateLimitPatterns is the superset §6 names, shared by every
// cli-kind strategy: "rate.*limit", "too many requests", "429",
// "RESOURCE_EXHAUSTED", "Free Tier Rate Limit Exceeded", "message.*limit".
func commonRateLimitPatterns() []*regexp.Regexp {
	return compileAll(
		`(?i)rate.*limit`,
		`(?i)too many requests`,
		`\b429\b`,
		`RESOURCE_EXHAUSTED`,
		`(?i)Free Tier Rate Limit Exceeded`,
		`(?i)message.*limit`,
	)
}

// commonQuotaPatterns is the §6 superset: "quota.*exceed",
// "billing.*limit", "token.*limit".
func commonQuotaPatterns() []*regexp.Regexp {
	return compileAll(
		`(?i)quota.*exceed`,
		`(?i)billing.*limit`,
		`(?i)token.*limit`,
	)
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// mergeEnv overlays permissions on top of extra, with permissions taking
// precedence — used uniformly by every Prepare implementation.
func mergeEnv(extra, permissions map[string]string) map[string]string {
	out := make(map[string]string, len(extra)+len(permissions))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range permissions {
		out[k] = v
	}
	return out
}

// Registry is the closed-but-extensible table from cli-kind to Strategy
// (§3, §9 "Dynamic strategy dispatch").
type Registry struct {
	strategies map[types.CliKind]*Strategy
}

// NewRegistry builds the registry with the seven built-in strategies of
// §6's normative inventory.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[types.CliKind]*Strategy)}
	for _, s := range []*Strategy{
		claudeStrategy(),
		opencodeStrategy(),
		geminiStrategy(),
		droidStrategy(),
		crushStrategy(),
		kimiStrategy(),
		kilocodeStrategy(),
	} {
		r.strategies[s.Kind] = s
	}
	return r
}

// Register adds or overrides a strategy — the mechanism by which a user
// extends the closed CliKind enumeration with a vendor of their own
// (§3: "user-extensible").
func (r *Registry) Register(s *Strategy) {
	r.strategies[s.Kind] = s
}

// Get returns the strategy for kind, or a CliNotFoundError-shaped failure
// via the bool.
func (r *Registry) Get(kind types.CliKind) (*Strategy, bool) {
	s, ok := r.strategies[kind]
	return s, ok
}

// claudeStrategy: argv = [extra-args], stdin = prompt.
func claudeStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliClaude,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			return Prepared{
				Argv:        append([]string{}, model.ExtraArgs...),
				Env:         mergeEnv(env, permissions),
				StdinInput:  []byte(prompt),
				DisplayName: displayName(model, "claude"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

// opencodeStrategy: argv = ["run", "--model", <model>, <prompt>, extra-args],
// stdin = none, permission env defaulted to allow-all (§6).
func opencodeStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliOpencode,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			argv := append([]string{"run", "--model", model.Model, prompt}, model.ExtraArgs...)
			merged := mergeEnv(env, permissions)
			if _, ok := merged["OPENCODE_PERMISSION"]; !ok {
				merged["OPENCODE_PERMISSION"] = "allow"
			}
			return Prepared{
				Argv:        argv,
				Env:         merged,
				DisplayName: displayName(model, "opencode"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
		DetectCacheCorruption: func(output string) bool {
			return opencodeCacheCorruptionRegex.MatchString(output)
		},
		ClearCache: clearOpencodeCache,
	}
}

var opencodeCacheCorruptionRegex = regexp.MustCompile(`(?i)ENOENT.*\.cache/opencode/node_modules`)

// geminiStrategy: argv = ["--model", <model>, extra-args], stdin = prompt.
func geminiStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliGemini,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			argv := append([]string{"--model", model.Model}, model.ExtraArgs...)
			return Prepared{
				Argv:        argv,
				Env:         mergeEnv(env, permissions),
				StdinInput:  []byte(prompt),
				DisplayName: displayName(model, "gemini"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

// droidStrategy: argv = ["exec", <prompt>, extra-args], stdin = none.
func droidStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliDroid,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			argv := append([]string{"exec", prompt}, model.ExtraArgs...)
			return Prepared{
				Argv:        argv,
				Env:         mergeEnv(env, permissions),
				DisplayName: displayName(model, "droid"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

// crushStrategy: argv = ["run", "-m", <model>, <prompt>, extra-args], stdin = none.
func crushStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliCrush,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			argv := append([]string{"run", "-m", model.Model, prompt}, model.ExtraArgs...)
			return Prepared{
				Argv:        argv,
				Env:         mergeEnv(env, permissions),
				DisplayName: displayName(model, "crush"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

// kimiStrategy: argv = [extra-args], stdin = prompt, API-key env copied
// from permissions (§6).
func kimiStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliKimi,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			merged := mergeEnv(env, permissions)
			if key, ok := permissions["KIMI_API_KEY"]; ok {
				merged["MOONSHOT_API_KEY"] = key
			}
			return Prepared{
				Argv:        append([]string{}, model.ExtraArgs...),
				Env:         merged,
				StdinInput:  []byte(prompt),
				DisplayName: displayName(model, "kimi"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

// kilocodeStrategy: argv = [extra-args], stdin = prompt.
func kilocodeStrategy() *Strategy {
	return &Strategy{
		Kind: types.CliKilocode,
		Prepare: func(model types.ModelConfig, prompt string, env, permissions map[string]string) Prepared {
			return Prepared{
				Argv:        append([]string{}, model.ExtraArgs...),
				Env:         mergeEnv(env, permissions),
				StdinInput:  []byte(prompt),
				DisplayName: displayName(model, "kilocode"),
			}
		},
		RateLimitPatterns: commonRateLimitPatterns(),
		QuotaPatterns:     commonQuotaPatterns(),
	}
}

func displayName(model types.ModelConfig, fallback string) string {
	if model.DisplayName != "" {
		return model.DisplayName
	}
	if model.Name != "" {
		return model.Name
	}
	return fallback
}

// MatchesAny reports whether output matches any of the given patterns.
func MatchesAny(output string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(output) {
			return true
		}
	}
	return false
}
