package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pentra",
	Short: "Phased security assessment orchestrator",
	Long: `Pentra drives a source repository and its deployed target URL through
an ordered assessment pipeline: intake, prerecon, recon, vuln, report.

Every run is durable. All state lives in a per-run manifest on disk, so a
killed or crashed run resumes from the last completed phase with
'pentra resume'. Runs react to pause, resume, cancel, and update-config
signals while executing.

Safety first: pentra operates in safe mode by default, refuses repositories
outside the configured repos root, and honors focus/avoid rules from the
configuration before any analyzer touches a target.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(updateConfigCmd)
	rootCmd.AddCommand(versionCmd)
}
