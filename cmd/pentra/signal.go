package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pentra-dev/pentra/internal/state"
	"github.com/pentra-dev/pentra/internal/workflow"
)

var signalWorkspace string

var pauseCmd = &cobra.Command{
	Use:   "pause [run-id]",
	Short: "Pause a running assessment at the next phase boundary",
	Long: `Ask a running assessment to pause.

The run finishes the phase currently executing, then holds at the
boundary until resumed or canceled. Without a run ID, targets the most
recent active run in the workspace.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRunSignal(args, workflow.SignalPause, "")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a running assessment",
	Long: `Ask a running assessment to stop cleanly.

Completed phases keep their artifacts. A canceled run cannot be resumed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRunSignal(args, workflow.SignalCancel, "")
	},
}

var updateConfigCmd = &cobra.Command{
	Use:   "update-config <config-path> [run-id]",
	Short: "Supply a corrected configuration to a waiting run",
	Long: `Hand a run that is waiting for configuration a corrected config file.

When a phase fails because of missing or invalid configuration (for
example a missing API key), the run parks in waiting_config instead of
dying. This command points it at the fixed file so the phase can retry.

Example:
  pentra update-config ~/.config/pentra/config.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := absConfigPath(args[0])
		if err != nil {
			return err
		}
		return sendRunSignal(args[1:], workflow.SignalUpdateConfig, path)
	},
}

func init() {
	for _, c := range []*cobra.Command{pauseCmd, cancelCmd, updateConfigCmd} {
		c.Flags().StringVar(&signalWorkspace, "workspace", "default", "Workspace to look for the run in")
	}
}

// sendRunSignal resolves the target run and drops a signal file in its run
// directory for the owning process to pick up.
func sendRunSignal(runArgs []string, name, payload string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()

	var run *state.Run
	if len(runArgs) > 0 {
		run, err = registry.GetRun(runArgs[0])
		if err == nil && run == nil {
			err = fmt.Errorf("run %s not found", runArgs[0])
		}
	} else {
		run, err = registry.LatestResumable(signalWorkspace)
		if err == nil && run == nil {
			err = fmt.Errorf("no active run in workspace %s", signalWorkspace)
		}
	}
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already finished (%s)", run.ID, run.Status)
	}

	if err := workflow.SendSignal(run.RunDir, name, payload); err != nil {
		return fmt.Errorf("send %s signal: %w", name, err)
	}
	fmt.Printf("Sent %s signal to run %s\n", name, run.ID)
	return nil
}

func absConfigPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("config file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config path %s is a directory", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
