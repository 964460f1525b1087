package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pentra-dev/pentra/internal/state"
	"github.com/pentra-dev/pentra/pkg/models"
)

var (
	statusWorkspace string
	statusAll       bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Display the status of runs.

Without arguments, shows the most recent run in the workspace. With a
run ID, shows that run. With --all, lists every registered run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", "default", "Workspace to look in")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List all registered runs")
}

func runStatus(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()

	if statusAll {
		runs, err := registry.ListRuns("")
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		return displayRunList(runs)
	}

	var run *state.Run
	if len(args) > 0 {
		run, err = registry.GetRun(args[0])
	} else {
		run, err = registry.LatestRun(statusWorkspace)
	}
	if err != nil {
		return fmt.Errorf("look up run: %w", err)
	}
	if run == nil {
		fmt.Println("No runs found. Run 'pentra run <repo-path>' to start one.")
		return nil
	}
	displayRun(run)
	return nil
}

func displayRunList(runs []*state.Run) error {
	if len(runs) == 0 {
		fmt.Println("No runs found. Run 'pentra run <repo-path>' to start one.")
		return nil
	}
	fmt.Printf("%-14s %-12s %-14s %-10s %s\n", "RUN", "WORKSPACE", "STATUS", "PHASE", "STARTED")
	for _, run := range runs {
		fmt.Printf("%-14s %-12s %-14s %-10s %s\n",
			run.ID, run.Workspace, coloredStatus(run.Status),
			run.CurrentPhase, run.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func displayRun(run *state.Run) {
	fmt.Printf("Run:       %s\n", run.ID)
	fmt.Printf("Workspace: %s\n", run.Workspace)
	fmt.Printf("Target:    %s\n", run.URL)
	fmt.Printf("Repo:      %s\n", run.RepoPath)
	fmt.Printf("Status:    %s\n", coloredStatus(run.Status))
	if run.CurrentPhase != "" {
		fmt.Printf("Phase:     %s\n", run.CurrentPhase)
	}
	fmt.Printf("Started:   %s\n", run.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:   %s\n", run.UpdatedAt.Local().Format(time.DateTime))
	fmt.Printf("Artifacts: %s\n", run.RunDir)

	if m := readManifest(run.RunDir); m != nil {
		fmt.Printf("Progress:  %d/%d phases\n", len(m.CompletedPhases), len(m.Phases))
		for _, p := range m.Phases {
			mark := "[ ]"
			if m.PhaseComplete(p) {
				mark = "[" + color.GreenString("✓") + "]"
			} else if p == m.CurrentPhase && !m.Status.Terminal() {
				mark = "[" + color.CyanString("●") + "]"
			}
			fmt.Printf("  %s %s\n", mark, p)
		}
		if m.LastError != nil {
			fmt.Printf("Last error: [%s] %s\n", m.LastError.Kind, m.LastError.Message)
		}
	}

	switch run.Status {
	case models.RunCompleted, models.RunCanceled:
	case models.RunWaitingConfig:
		fmt.Println("\nThe run is waiting for configuration.")
		fmt.Println("Fix the configuration, then: pentra update-config <path>")
	default:
		fmt.Printf("\nResume with: pentra resume %s\n", run.ID)
	}
}

// readManifest loads a run's manifest without taking the store's write
// paths. Best effort: a missing or corrupt manifest just shortens the
// display.
func readManifest(runDir string) *models.Manifest {
	data, err := os.ReadFile(filepath.Join(runDir, "artifacts", "manifest.json"))
	if err != nil {
		return nil
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

func coloredStatus(status models.RunStatus) string {
	s := strings.ToUpper(string(status))
	switch status {
	case models.RunCompleted:
		return color.GreenString(s)
	case models.RunRunning:
		return color.CyanString(s)
	case models.RunPaused, models.RunWaitingConfig:
		return color.YellowString(s)
	case models.RunFailed:
		return color.RedString(s)
	case models.RunCanceled:
		return color.HiBlackString(s)
	}
	return s
}
