package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	sqlitebackend "github.com/loopwork-dev/taskrunner/internal/backend/sqlite"
	"github.com/loopwork-dev/taskrunner/internal/breaker"
	"github.com/loopwork-dev/taskrunner/internal/cliexec"
	taskrunnerconfig "github.com/loopwork-dev/taskrunner/internal/config"
	"github.com/loopwork-dev/taskrunner/internal/healer"
	"github.com/loopwork-dev/taskrunner/internal/pattern"
	"github.com/loopwork-dev/taskrunner/internal/pool"
	"github.com/loopwork-dev/taskrunner/internal/selector"
	"github.com/loopwork-dev/taskrunner/internal/types"
)

var (
	runConcurrency int
	runTimeoutSecs int
	runSeed        int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the task queue through the CLI executor",
	Long: `Acquire worker-pool slots, select a model, spawn the configured CLI, and
classify the result for every queued task, retrying and failing over per
the model selector's circuit breakers until the queue is empty or a
shutdown signal arrives.`,
	RunE: runMain,
}

func init() {
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 4, "number of task-draining goroutines")
	runCmd.Flags().IntVar(&runTimeoutSecs, "timeout", 120, "per-task timeout in seconds")
	runCmd.Flags().IntVar(&runSeed, "seed", 0, "enqueue N synthetic medium-priority demo tasks before draining")
	rootCmd.AddCommand(runCmd)
}

func runMain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := taskrunnerconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	effectiveStateDir := cfg.StateDir
	if stateDir != "" {
		effectiveStateDir = stateDir
	}

	store, err := sqlitebackend.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open task queue %s: %w", dbPath, err)
	}
	defer store.Close()

	if runSeed > 0 {
		if err := seedDemoTasks(ctx, store, runSeed); err != nil {
			return fmt.Errorf("seed demo tasks: %w", err)
		}
	}

	pools := pool.New(cfg.Pools, cfg.DefaultPool)
	defer pools.Shutdown()

	sel := selector.New(selector.Config{
		Primary:                cfg.Primary,
		Fallback:               cfg.Fallback,
		Strategy:               cfg.Strategy,
		CircuitBreakersEnabled: true,
		BreakerConfig:          breaker.DefaultConfig(),
	})

	logPath := filepath.Join(effectiveStateDir, "taskrunner.log")
	if err := os.MkdirAll(effectiveStateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	exec := cliexec.New(cliexec.Config{
		Pools:              pools,
		Selector:           sel,
		Strategies:         cliexec.NewRegistry(),
		RetrySameModel:     true,
		MaxRetriesPerModel: 2,
		RateLimitWaitMs:    cfg.RateLimitWaitMs,
		LogSink:            logFile,
	})

	h, err := healer.New(healer.Config{
		LogPath:  logPath,
		StateDir: effectiveStateDir,
		Breaker:  breaker.DefaultConfig(),
		Analyzer: healer.DefaultAnalyzerConfig(),
		Execute: func(ctx context.Context, m pattern.Match) (bool, error) {
			return runHealerAction(sel, m), nil
		},
	})
	if err != nil {
		return fmt.Errorf("construct healer: %w", err)
	}
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start healer: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("%s taskrunner draining %s with %d worker(s)\n", cyan("→"), dbPath, runConcurrency)

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < runConcurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		group.Go(func() error {
			return drainLoop(groupCtx, store, exec, h, workerID)
		})
	}

	runErr := group.Wait()

	fmt.Printf("%s shutting down\n", cyan("→"))
	exec.Shutdown()
	if err := h.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "%s stop healer: %v\n", red("✗"), err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s run ended with an error: %v\n", red("✗"), runErr)
		return runErr
	}
	fmt.Printf("%s queue drained\n", green("✓"))
	return nil
}

// drainLoop repeatedly claims the next queued task and executes it until
// the backend is empty or ctx is canceled, per §4.6's per-task ordering
// (compose prompt -> acquire -> spawn -> release) run concurrently
// across many in-flight tasks (§5 "one lightweight task per in-flight
// execute() call").
func drainLoop(ctx context.Context, store *sqlitebackend.Backend, exec *cliexec.Executor, h *healer.Healer, workerID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, ok, err := store.Next(ctx)
		if err != nil {
			return fmt.Errorf("%s: claim next task: %w", workerID, err)
		}
		if !ok {
			return nil
		}

		outputDir := filepath.Join(filepath.Dir(dbPath), "outputs", task.ID)
		outputFile := filepath.Join(outputDir, "output.log")
		timeout := time.Duration(runTimeoutSecs) * time.Second

		exitCode, execErr := exec.Execute(ctx, defaultPrompt(task), outputFile, timeout, cliexec.ExecuteOptions{
			TaskID:   task.ID,
			WorkerID: workerID,
			Priority: task.Priority,
			Feature:  task.Feature,
		})

		if execErr != nil && h != nil {
			reason := execErr.Error()
			var tail []string
			_ = h.HandleTaskFailure(ctx, task.ID, reason, tail)
		}

		if markErr := store.MarkDone(ctx, task.ID, exitCode, execErr); markErr != nil {
			return fmt.Errorf("%s: mark task %s done: %w", workerID, task.ID, markErr)
		}
	}
}

func defaultPrompt(task types.Task) string {
	return fmt.Sprintf("Complete task %s (priority=%s, feature=%q).", task.ID, task.Priority, task.Feature)
}

// runHealerAction carries out a matched pattern's autoAction against the
// live selector (§4.9). The only action kind that touches the selector
// directly is reset-breaker; the rest are recorded for wisdom purposes
// without a side effect the reference CLI can usefully perform.
func runHealerAction(sel *selector.Selector, m pattern.Match) bool {
	if m.Action == nil {
		return true
	}
	switch m.Action.Kind {
	case pattern.ActionResetBreaker:
		sel.Reset()
		return true
	default:
		return true
	}
}

func seedDemoTasks(ctx context.Context, store *sqlitebackend.Backend, n int) error {
	for i := 0; i < n; i++ {
		task := types.Task{
			ID:       uuid.NewString(),
			Priority: types.PriorityMedium,
		}
		if err := store.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
