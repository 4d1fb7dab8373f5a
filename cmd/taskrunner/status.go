package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	sqlitebackend "github.com/loopwork-dev/taskrunner/internal/backend/sqlite"
	"github.com/loopwork-dev/taskrunner/internal/breaker"
	taskrunnerconfig "github.com/loopwork-dev/taskrunner/internal/config"
	"github.com/loopwork-dev/taskrunner/internal/pool"
	"github.com/loopwork-dev/taskrunner/internal/selector"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, pool occupancy, and model health",
	Long:  `Display task queue counts, worker-pool occupancy, and per-model circuit-breaker state.`,
	RunE:  statusMain,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusMain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== taskrunner status ==="))

	cfg, err := taskrunnerconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Printf("%s\n", yellow("Task Queue:"))
	if store, err := sqlitebackend.Open(dbPath); err != nil {
		fmt.Printf("  %s failed to open %s: %v\n", red("✗"), dbPath, err)
	} else {
		defer store.Close()
		stats, err := store.Stats(ctx)
		if err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
		} else {
			fmt.Printf("  Queued: %d   Done: %s   Failed: %s\n",
				stats.Queued, green(fmt.Sprintf("%d", stats.Done)), red(fmt.Sprintf("%d", stats.Failed)))
		}
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Worker Pools:"))
	pools := pool.New(cfg.Pools, cfg.DefaultPool)
	defer pools.Shutdown()
	poolStats := pools.GetStats()
	for name, size := range poolStats.Size {
		active := poolStats.Active[name]
		indicator := green("●")
		if active == size {
			indicator = red("●")
		} else if active > 0 {
			indicator = yellow("●")
		}
		fmt.Printf("  %s %-12s %d/%d in use\n", indicator, name, active, size)
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Model Health:"))
	sel := selector.New(selector.Config{
		Primary:                cfg.Primary,
		Fallback:               cfg.Fallback,
		Strategy:               cfg.Strategy,
		CircuitBreakersEnabled: true,
		BreakerConfig:          breaker.DefaultConfig(),
	})
	health := sel.GetHealthStatus()
	if len(health) == 0 {
		fmt.Printf("  %s\n", gray("no models configured"))
	}
	for _, h := range health {
		statusIcon := green("✓")
		switch {
		case h.Disabled:
			statusIcon = gray("○")
		case h.BreakerState == breaker.Open:
			statusIcon = red("✗")
		case h.BreakerState == breaker.HalfOpen:
			statusIcon = yellow("◐")
		}
		fmt.Printf("  %s %-20s breaker=%-10s retries=%d\n", statusIcon, h.Name, h.BreakerState, h.RetryCount)
	}
	if sel.UsingFallback() {
		fmt.Printf("  %s currently on fallback pool\n", yellow("⚠"))
	}
	fmt.Println()

	if stateDir != "" {
		if _, err := os.Stat(stateDir); err != nil {
			fmt.Printf("%s healer state dir %s is not yet initialized\n", gray("i"), stateDir)
		}
	}

	return nil
}
