package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	sqlitebackend "github.com/loopwork-dev/taskrunner/internal/backend/sqlite"
	taskrunnerconfig "github.com/loopwork-dev/taskrunner/internal/config"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment taskrunner needs to execute tasks",
	Long: `Run health checks to diagnose common taskrunner configuration and
environment issues.

This command checks for:
- Config file loadability
- State directory writability
- Reference task queue accessibility
- Each configured model's CLI being resolvable on PATH or via its
  LOOPWORK_<KIND>_PATH override
- ANTHROPIC_API_KEY, needed by the healer's LLM-fallback analyzer

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent taskrunner from running`,
	RunE: doctorMain,
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "show detailed diagnostic information")
	rootCmd.AddCommand(doctorCmd)
}

func doctorMain(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("Running taskrunner health checks...\n\n")

	var criticalFailures, failures, warnings []string

	fmt.Printf("%s Config file\n", cyan("→"))
	cfg, err := taskrunnerconfig.Load(cfgPath)
	if err != nil {
		criticalFailures = append(criticalFailures, fmt.Sprintf("config %s: %v", cfgPath, err))
		fmt.Printf("  %s Cannot load %s\n", red("✗"), cfgPath)
		if verbose {
			fmt.Printf("    Error: %v\n", err)
		}
	} else if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		fmt.Printf("  %s No config at %s, using built-in defaults\n", green("✓"), cfgPath)
	} else {
		fmt.Printf("  %s Loaded %s\n", green("✓"), cfgPath)
	}

	fmt.Printf("%s State directory\n", cyan("→"))
	effectiveStateDir := cfg.StateDir
	if stateDir != "" {
		effectiveStateDir = stateDir
	}
	if effectiveStateDir == "" {
		effectiveStateDir = ".loopwork/ai-monitor"
	}
	if err := os.MkdirAll(effectiveStateDir, 0o755); err != nil {
		failures = append(failures, fmt.Sprintf("state dir %s not writable: %v", effectiveStateDir, err))
		fmt.Printf("  %s Cannot create/write %s\n", red("✗"), effectiveStateDir)
	} else {
		fmt.Printf("  %s %s is writable\n", green("✓"), effectiveStateDir)
	}

	fmt.Printf("%s Task queue\n", cyan("→"))
	if store, err := sqlitebackend.Open(dbPath); err != nil {
		criticalFailures = append(criticalFailures, fmt.Sprintf("task queue %s: %v", dbPath, err))
		fmt.Printf("  %s Cannot open %s\n", red("✗"), dbPath)
		if verbose {
			fmt.Printf("    Error: %v\n", err)
		}
	} else {
		stats, statErr := store.Stats(cmd.Context())
		store.Close()
		if statErr != nil {
			warnings = append(warnings, fmt.Sprintf("cannot query %s: %v", dbPath, statErr))
			fmt.Printf("  %s Opened %s but could not query it\n", yellow("⚠"), dbPath)
		} else {
			fmt.Printf("  %s %s (%d queued, %d done, %d failed)\n", green("✓"), dbPath, stats.Queued, stats.Done, stats.Failed)
		}
	}

	fmt.Printf("%s Model CLIs\n", cyan("→"))
	models := append(append([]types.ModelConfig{}, cfg.Primary...), cfg.Fallback...)
	if len(models) == 0 {
		warnings = append(warnings, "no models configured")
		fmt.Printf("  %s No models configured\n", yellow("⚠"))
	}
	for _, m := range models {
		if !m.Enabled {
			fmt.Printf("  %s %s (%s) disabled, skipping\n", color.New(color.FgHiBlack).Sprint("○"), m.Name, m.Kind)
			continue
		}
		path := resolveDoctorCliPath(m.Kind)
		if found, err := exec.LookPath(path); err == nil {
			fmt.Printf("  %s %s (%s) resolves to %s\n", green("✓"), m.Name, m.Kind, found)
		} else {
			failures = append(failures, fmt.Sprintf("%s: CLI %q not found on PATH", m.Name, path))
			fmt.Printf("  %s %s (%s) not found: %s\n", red("✗"), m.Name, m.Kind, path)
			fmt.Printf("    Set LOOPWORK_%s_PATH to override\n", strings.ToUpper(string(m.Kind)))
		}
	}

	fmt.Printf("%s Environment variables\n", cyan("→"))
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey == "" {
		warnings = append(warnings, "ANTHROPIC_API_KEY not set")
		fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", yellow("⚠"))
		fmt.Printf("    The healer's LLM-fallback analyzer will not work\n")
	} else {
		fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 60))

	total := len(criticalFailures) + len(failures) + len(warnings)
	if total == 0 {
		fmt.Printf("%s All checks passed! taskrunner is ready to run.\n", green("✓"))
		return nil
	}

	if len(criticalFailures) > 0 {
		fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
		for _, f := range criticalFailures {
			fmt.Printf("  • %s\n", f)
		}
	}
	if len(failures) > 0 {
		fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
		for _, f := range failures {
			fmt.Printf("  • %s\n", f)
		}
	}
	if len(warnings) > 0 {
		fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
		for _, w := range warnings {
			fmt.Printf("  • %s\n", w)
		}
	}

	if len(criticalFailures) > 0 {
		os.Exit(2)
	}
	if len(failures) > 0 {
		os.Exit(1)
	}
	fmt.Printf("\n%s taskrunner should work, but some warnings were detected.\n", green("✓"))
	return nil
}

func resolveDoctorCliPath(kind types.CliKind) string {
	envVar := "LOOPWORK_" + strings.ToUpper(string(kind)) + "_PATH"
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return string(kind)
}
