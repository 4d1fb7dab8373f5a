package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	taskrunnerconfig "github.com/loopwork-dev/taskrunner/internal/config"
	"github.com/loopwork-dev/taskrunner/internal/healer"
)

var wisdomCmd = &cobra.Command{
	Use:   "wisdom",
	Short: "Show the healer's learned failure-recovery patterns",
	Long: `Print every entry in the healer's wisdom catalog: the error signature,
how many times its recorded fix has succeeded or failed, and whether it
has reached the trusted-success threshold (a minimum success count).`,
	RunE: wisdomMain,
}

func init() {
	rootCmd.AddCommand(wisdomCmd)
}

func wisdomMain(cmd *cobra.Command, args []string) error {
	cfg, err := taskrunnerconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	effectiveStateDir := cfg.StateDir
	if stateDir != "" {
		effectiveStateDir = stateDir
	}
	if effectiveStateDir == "" {
		effectiveStateDir = healer.DefaultStateDir
	}

	store, err := healer.LoadWisdomStore(filepath.Join(effectiveStateDir, "wisdom.json"))
	if err != nil {
		return fmt.Errorf("load wisdom store: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== taskrunner wisdom ==="))
	fmt.Printf("sessions=%d  heals=%d  failures=%d\n\n", store.SessionCount, store.TotalHeals, store.TotalFailures)

	signatures := make([]string, 0, len(store.Patterns))
	for sig := range store.Patterns {
		signatures = append(signatures, sig)
	}
	sort.Strings(signatures)

	if len(signatures) == 0 {
		fmt.Printf("%s\n", gray("no learned patterns yet"))
		return nil
	}

	for _, sig := range signatures {
		p := store.Patterns[sig]
		trustIcon := gray("·")
		if p.Trusted(healer.DefaultMinTrustedSuccesses) {
			trustIcon = green("✓")
		} else if p.SuccessRate < 0.5 && p.FailureCount > 0 {
			trustIcon = yellow("⚠")
		}
		fmt.Printf("%s %s\n", trustIcon, sig)
		fmt.Printf("    successes=%d failures=%d rate=%.0f%%\n", p.SuccessCount, p.FailureCount, p.SuccessRate*100)
		if p.ImprovementNote != "" {
			fmt.Printf("    note: %s\n", p.ImprovementNote)
		}
		fmt.Printf("    last seen: %s\n", p.LastSeen.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	return nil
}
