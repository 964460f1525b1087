package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pentra-dev/pentra/internal/agent"
	"github.com/pentra-dev/pentra/internal/config"
	"github.com/pentra-dev/pentra/internal/llm"
	"github.com/pentra-dev/pentra/internal/phase"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/scope"
	"github.com/pentra-dev/pentra/internal/state"
	"github.com/pentra-dev/pentra/internal/store"
	"github.com/pentra-dev/pentra/internal/workflow"
	"github.com/pentra-dev/pentra/pkg/models"
)

var (
	runWorkspace string
	runURL       string
	runHeadless  bool
	runForce     bool
)

var runCmd = &cobra.Command{
	Use:   "run <repo-path>",
	Short: "Start a new assessment run",
	Long: `Start a new assessment run against a source repository and its
deployed target URL.

The run walks the full pipeline in order: intake, prerecon, recon, vuln,
report. Each phase persists its artifacts before the next begins, so the
run survives crashes and restarts. Use 'pentra resume' to pick up an
interrupted run.

The repository must live under the configured repos root. The target URL
must be http or https with a hostname.

While a run executes, a second pentra process can steer it:
  pentra pause                 # hold at the next phase boundary
  pentra cancel                # stop cleanly
  pentra update-config <path>  # supply a corrected config while waiting

Examples:
  pentra run ~/pentra/repos/shop --url https://staging.shop.example.com
  pentra run ./api --url https://api.staging.example.com --workspace acme
  pentra run ./api --url https://api.staging.example.com --headless`,
	Args: cobra.ExactArgs(1),
	RunE: runAssessment,
}

func init() {
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "default", "Workspace the run belongs to")
	runCmd.Flags().StringVar(&runURL, "url", "", "Deployed target URL to assess (required)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without TUI, print events as lines")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Override scope checks (recorded in the audit log)")
	runCmd.MarkFlagRequired("url")
}

func runAssessment(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repoPath, err := scope.EnsureRepoInRoot(args[0], cfg.Run.ReposRoot)
	if err != nil {
		return err
	}
	if _, err := scope.ValidateTargetURL(runURL); err != nil {
		return err
	}

	if cfg.Provider.Name == "anthropic" {
		if _, err := config.GetAPIKey(cfg); err != nil {
			color.Yellow("warning: %v (the run will wait for configuration)", err)
		}
	}

	ruleSet, err := rules.Compile(cfg.RuleDecls())
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	runID := "run-" + uuid.New().String()[:8]
	st, err := store.Open(cfg.Run.RunsRoot, runWorkspace, runID)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	m := models.NewManifest(runWorkspace, runID, runURL, repoPath, nil)
	if err := st.WriteManifest(m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	registry, err := openRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()
	if err := registry.CreateRun(&state.Run{
		ID:           runID,
		Workspace:    runWorkspace,
		URL:          runURL,
		RepoPath:     repoPath,
		RunDir:       st.Base(),
		Status:       m.Status,
		CurrentPhase: m.CurrentPhase,
		CreatedAt:    m.CreatedAt,
	}); err != nil {
		return fmt.Errorf("register run: %w", err)
	}

	fmt.Printf("Starting run %s in workspace %s\n", runID, runWorkspace)
	fmt.Printf("  repo:   %s\n", repoPath)
	fmt.Printf("  target: %s\n", runURL)

	return driveRun(cfg, ruleSet, st, registry, m, runHeadless, runForce, runURL)
}

// driveRun wires the worker, executor, engine, and signal watcher for one
// run and blocks until the run reaches a terminal state. Shared by run and
// resume.
func driveRun(cfg *config.Config, ruleSet *rules.RuleSet, st *store.Store, registry *state.DB, m *models.Manifest, headless, force bool, targetURL string) error {
	client := llm.NewClient(cfg.ClientConfig())
	worker := agent.NewSafeWorker(client, cfg.Provider.Model, ruleSet)
	executor := phase.NewExecutor(worker, ruleSet, cfg.ExecutorConfig())

	emitter := workflow.NewEventEmitter(64)
	engine := workflow.NewEngine(st, executor, ruleSet, nil, emitter, workflow.EngineConfig{
		ConfigWindow: cfg.Run.ConfigWindow,
		TargetURL:    targetURL,
		Force:        force,
		Reload:       reloadConfig,
	})

	signals, err := workflow.NewSignalManager(st.Base(), engine.Controller())
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	defer signals.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if headless {
		runErr = runHeadlessLoop(ctx, engine, emitter, m)
	} else {
		runErr = runWithTUI(ctx, engine, emitter, m)
	}

	if err := registry.UpdateRunStatus(m.RunID, m.Status, m.CurrentPhase); err != nil {
		fmt.Fprintf(os.Stderr, "warning: update run registry: %v\n", err)
	}
	if runErr != nil {
		return runErr
	}
	printOutcome(m, st)
	return nil
}

// reloadConfig validates a corrected configuration supplied through an
// update-config signal. Provider credentials are re-read from the
// environment on the next health check, so loading is enough to confirm
// the file is usable before the waiting phase retries.
func reloadConfig(path string) error {
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if _, err := rules.Compile(cfg.RuleDecls()); err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}
	return nil
}

func runHeadlessLoop(ctx context.Context, engine *workflow.Engine, emitter *workflow.EventEmitter, m *models.Manifest) error {
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx, m)
		emitter.Close()
	}()
	for event := range emitter.Events() {
		line := fmt.Sprintf("[%s] %s", event.Type, event.Message)
		if event.Phase != "" {
			line = fmt.Sprintf("[%s] %s: %s", event.Type, event.Phase, event.Message)
		}
		if event.Err != nil {
			line += " (" + event.Err.Error() + ")"
		}
		fmt.Println(line)
	}
	return <-done
}

func printOutcome(m *models.Manifest, st *store.Store) {
	switch m.Status {
	case models.RunCompleted:
		color.Green("Run %s completed. Artifacts: %s", m.RunID, st.Base())
	case models.RunCanceled:
		color.Yellow("Run %s canceled. Completed phases keep their artifacts: %s", m.RunID, st.Base())
	case models.RunFailed:
		msg := ""
		if m.LastError != nil {
			msg = ": " + m.LastError.Message
		}
		color.Red("Run %s failed at %s%s", m.RunID, m.CurrentPhase, msg)
	default:
		fmt.Printf("Run %s stopped in state %s. Resume with: pentra resume %s\n", m.RunID, m.Status, m.RunID)
	}
}

func openRegistry() (*state.DB, error) {
	registry, err := state.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}
	if err := registry.Migrate(); err != nil {
		registry.Close()
		return nil, fmt.Errorf("migrate run registry: %w", err)
	}
	return registry, nil
}
