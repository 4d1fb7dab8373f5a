// Command taskrunner drives the multi-CLI AI task executor core against
// a reference SQLite-backed task queue. Grounded on the
// teacher's cmd/vc package-level rootCmd + per-subcommand-file layout
// (each subcommand registers itself via its own init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	stateDir string
	dbPath   string
)

var rootCmd = &cobra.Command{
	Use:   "taskrunner",
	Short: "Drain a task queue through a multi-CLI AI command executor",
	Long: `taskrunner dispatches queued tasks to external AI CLIs (claude, opencode,
gemini, droid, crush, kimi, kilocode), enforcing pool concurrency budgets,
model-selector failover with circuit breakers, retry/backoff classification,
and a log-watching healer that recovers from corrupted vendor caches and
missing task specs.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".loopwork/taskrunner.yaml", "path to the model/pool config file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override the healer's state directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".loopwork/tasks.db", "path to the reference SQLite task queue")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
