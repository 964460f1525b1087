package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pentra-dev/pentra/internal/config"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/state"
	"github.com/pentra-dev/pentra/internal/store"
	"github.com/pentra-dev/pentra/pkg/models"
)

var (
	resumeWorkspace string
	resumeURL       string
	resumeHeadless  bool
	resumeForce     bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an interrupted run",
	Long: `Resume a run from its last completed phase.

Without a run ID, resumes the most recent run in the workspace that has
not completed or been canceled. Completed phases whose artifacts still
verify are kept; anything tampered with or missing is re-executed.

Resuming against a different target URL than the run was started with is
refused unless --force is given, and the override is written to the run's
audit log.

Examples:
  pentra resume                     # most recent resumable run
  pentra resume run-1a2b3c4d        # a specific run
  pentra resume --url https://staging2.example.com --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeWorkspace, "workspace", "default", "Workspace to look for runs in")
	resumeCmd.Flags().StringVar(&resumeURL, "url", "", "Target URL to assess (defaults to the run's recorded URL)")
	resumeCmd.Flags().BoolVar(&resumeHeadless, "headless", false, "Run without TUI, print events as lines")
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "Override scope checks (recorded in the audit log)")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := openRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()

	run, err := findResumableRun(registry, args)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Run.RunsRoot, run.Workspace, run.ID)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	m, err := st.ReadManifest()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	switch m.Status {
	case models.RunCompleted:
		return fmt.Errorf("run %s already completed", m.RunID)
	case models.RunCanceled:
		return fmt.Errorf("run %s was canceled and cannot be resumed", m.RunID)
	case models.RunFailed:
		// A failed run re-enters the pipeline at its first incomplete phase.
		m.Status = models.RunRunning
	}

	ruleSet, err := rules.Compile(cfg.RuleDecls())
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	fmt.Printf("Resuming run %s in workspace %s (completed: %d/%d phases)\n",
		m.RunID, m.Workspace, len(m.CompletedPhases), len(m.Phases))

	return driveRun(cfg, ruleSet, st, registry, m, resumeHeadless, resumeForce, resumeURL)
}

func findResumableRun(registry *state.DB, args []string) (*state.Run, error) {
	if len(args) > 0 {
		run, err := registry.GetRun(args[0])
		if err != nil {
			return nil, fmt.Errorf("look up run: %w", err)
		}
		if run == nil {
			return nil, fmt.Errorf("run %s not found. Run 'pentra status --all' to list runs", args[0])
		}
		return run, nil
	}
	run, err := registry.LatestResumable(resumeWorkspace)
	if err != nil {
		return nil, fmt.Errorf("look up runs: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("no resumable run in workspace %s. Run 'pentra run <repo-path>' to start one", resumeWorkspace)
	}
	return run, nil
}
