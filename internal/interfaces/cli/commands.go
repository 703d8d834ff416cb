// Package cli is the cobra command surface over the orchestrator core.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/application"
	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
	"github.com/kenpal-inc/convergent/internal/infrastructure/persistence"
	"github.com/kenpal-inc/convergent/internal/infrastructure/store"
	"github.com/kenpal-inc/convergent/internal/reports"
)

const (
	appName    = "convergent"
	appVersion = "0.3.0"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := &cobra.Command{
		Use:           appName,
		Short:         "convergent — tournament-based autonomous development orchestrator",
		Long:          "convergent decomposes a goal into a task queue and drives each task through\na convergent-evolution tournament of parallel LLM competitors.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newRetryCmd(),
		newStatusCmd(),
		newReportCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	return lastExitCode
}

// lastExitCode carries the scheduler-derived exit code (130 on interrupt)
// out of the cobra handlers.
var lastExitCode int

func projectDirFlag(cmd *cobra.Command) *string {
	return cmd.Flags().StringP("project", "C", ".", "project directory")
}

func newRunCmd() *cobra.Command {
	var (
		projectDir   *string
		instructions string
		budget       float64
		maxComp      int
		verbose      bool
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Generate a task queue for the goal and drive it to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(application.Options{
				ProjectDir:   mustAbs(*projectDir),
				Goal:         strings.Join(args, " "),
				Instructions: instructions,
				BudgetCap:    budget,
				MaxComp:      maxComp,
				Verbose:      verbose,
				DryRun:       dryRun,
			})
		},
	}
	projectDir = projectDirFlag(cmd)
	cmd.Flags().StringVarP(&instructions, "instructions", "i", "", "free-text instructions for the planner")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget cap in USD (overrides config)")
	cmd.Flags().IntVar(&maxComp, "max-competitors", 0, "max tournament competitors (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate and print the queue, then stop")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var (
		projectDir *string
		runDir     string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the latest (or a named) run from its on-disk state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(application.Options{
				ProjectDir: mustAbs(*projectDir),
				Resume:     true,
				RunDir:     runDir,
				Verbose:    verbose,
			})
		},
	}
	projectDir = projectDirFlag(cmd)
	cmd.Flags().StringVar(&runDir, "run", "", "run directory to resume (default: latest)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var (
		projectDir *string
		runDir     string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reset failed and blocked tasks of a run to pending and resume it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(application.Options{
				ProjectDir: mustAbs(*projectDir),
				Resume:     true,
				Retry:      true,
				RunDir:     runDir,
				Verbose:    verbose,
			})
		},
	}
	projectDir = projectDirFlag(cmd)
	cmd.Flags().StringVar(&runDir, "run", "", "run directory to retry (default: latest)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	return cmd
}

func execute(opts application.Options) error {
	app, err := application.New(opts)
	if err != nil {
		return err
	}
	reason, exitCode, err := app.Execute(context.Background())
	if err != nil {
		return err
	}
	lastExitCode = exitCode

	if opts.DryRun {
		for _, t := range app.Queue().Tasks {
			fmt.Printf("%s [%s/%s] %s\n", t.ID, t.Kind, t.Complexity, t.Title)
		}
		return nil
	}

	fmt.Println(RenderMarkdown(app.SummaryMarkdown(reason)))
	fmt.Printf("run directory: %s\n", app.RunDir())
	return nil
}

func newStatusCmd() *cobra.Command {
	var projectDir *string
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := mustAbs(*projectDir)
			if history > 0 {
				return printHistory(dir, history)
			}
			return printStatus(dir)
		},
	}
	projectDir = projectDirFlag(cmd)
	cmd.Flags().IntVar(&history, "history", 0, "list the N most recent archived runs instead")
	return cmd
}

func printStatus(projectDir string) error {
	runDir, err := application.LatestRunDir(projectDir)
	if err != nil {
		return err
	}
	input, err := loadReportInput(runDir)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, ts := range input.State.TasksStatus {
		counts[string(ts.Status)]++
	}
	fmt.Println(StatusLine("in_progress", counts["completed"], counts["failed"],
		len(input.Queue.Tasks), input.State.TotalCost))
	fmt.Println(RenderMarkdown(reports.Summary(input)))
	return nil
}

func printHistory(projectDir string, n int) error {
	dbPath := filepath.Join(projectDir, config.StateDirName, "history.db")
	h, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	runs, err := h.RecentRuns(n)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Println(StatusLine(r.StopReason, r.TasksCompleted, r.TasksFailed, r.TasksTotal, r.TotalCost),
			dimStyle.Render(r.ID+" — "+r.Goal))
	}
	return nil
}

func newReportCmd() *cobra.Command {
	var projectDir *string
	var runDir string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render the reports of the latest (or a named) run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := runDir
			if dir == "" {
				var err error
				dir, err = application.LatestRunDir(mustAbs(*projectDir))
				if err != nil {
					return err
				}
			}
			input, err := loadReportInput(dir)
			if err != nil {
				return err
			}
			if err := reports.Write(input); err != nil {
				return err
			}
			fmt.Printf("reports written under %s\n", filepath.Join(dir, "reports"))
			return nil
		},
	}
	projectDir = projectDirFlag(cmd)
	cmd.Flags().StringVar(&runDir, "run", "", "run directory (default: latest)")
	return cmd
}

func loadReportInput(runDir string) (reports.Input, error) {
	queue, err := store.LoadQueue(runDir)
	if err != nil {
		return reports.Input{}, err
	}
	stateStore := store.NewStateStore(runDir, zap.NewNop())
	if err := stateStore.Load(); err != nil {
		return reports.Input{}, err
	}
	return reports.Input{
		Queue:  queue,
		State:  stateStore.Snapshot(),
		RunDir: runDir,
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	}
}

func mustAbs(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
