package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pentra-dev/pentra/internal/agent"
	"github.com/pentra-dev/pentra/internal/phase"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/internal/store"
	"github.com/pentra-dev/pentra/pkg/models"
)

// DefaultConfigWindow is how long a run waits in waiting_config for an
// update_config signal before failing.
const DefaultConfigWindow = 24 * time.Hour

// EngineConfig tunes run-loop behavior.
type EngineConfig struct {
	// ConfigWindow bounds the waiting_config state.
	ConfigWindow time.Duration
	// TargetURL is the target the operator asked this invocation to assess.
	// Empty means the manifest's recorded URL. A mismatch refuses to resume
	// unless Force is set.
	TargetURL string
	// Force allows resuming a run whose stored target URL differs from the
	// requested one. The override is recorded in the audit log.
	Force bool
	// Reload applies a corrected configuration file after an update_config
	// signal. Nil means the path is recorded but nothing is re-read.
	Reload func(path string) error
}

// Validate fills zero values with defaults.
func (c *EngineConfig) Validate() {
	if c.ConfigWindow <= 0 {
		c.ConfigWindow = DefaultConfigWindow
	}
}

// Engine sequences the phases of a single run. All durable state goes
// through the artifact store; the engine holds nothing worth persisting.
type Engine struct {
	store      *store.Store
	executor   *phase.Executor
	ruleSet    *rules.RuleSet
	controller *Controller
	emitter    *EventEmitter
	cfg        EngineConfig
}

// NewEngine creates an engine for one run.
func NewEngine(st *store.Store, exec *phase.Executor, ruleSet *rules.RuleSet, controller *Controller, emitter *EventEmitter, cfg EngineConfig) *Engine {
	cfg.Validate()
	if controller == nil {
		controller = NewController()
	}
	return &Engine{
		store:      st,
		executor:   exec,
		ruleSet:    ruleSet,
		controller: controller,
		emitter:    emitter,
		cfg:        cfg,
	}
}

// Controller returns the signal controller for this engine.
func (e *Engine) Controller() *Controller {
	return e.controller
}

// Run drives the manifest through its remaining phases and returns when the
// run reaches a terminal state. The returned error reports failure of the
// engine itself; a run that ends in failed or canceled state returns nil
// with the outcome recorded in the manifest.
func (e *Engine) Run(ctx context.Context, m *models.Manifest) error {
	if m.Status.Terminal() {
		return fmt.Errorf("run %s already finished with status %s", m.RunID, m.Status)
	}

	if err := e.revalidate(m); err != nil {
		return err
	}

	if err := e.setStatus(m, models.RunRunning, ""); err != nil {
		return err
	}
	e.emit(Event{Type: EventRunStarted, Message: fmt.Sprintf("run %s", m.RunID)})

	for {
		current, ok := m.FirstIncomplete()
		if !ok {
			if err := e.setStatus(m, models.RunCompleted, ""); err != nil {
				return err
			}
			e.audit("run_completed", current, "")
			e.emit(Event{Type: EventRunCompleted})
			return nil
		}

		if halted, err := e.holdAtBoundary(ctx, m); halted || err != nil {
			return err
		}

		m.CurrentPhase = current
		if err := e.store.WriteManifest(m); err != nil {
			return err
		}
		e.emit(Event{Type: EventPhaseStarted, Phase: current})

		decision := e.ruleSet.Plan(current, rules.AnalyzersFor(current))
		if decision.Blocked() {
			if err := e.completeBlockedPhase(m, current, decision); err != nil {
				return err
			}
			continue
		}

		phaseCtx, release := e.cancelableContext(ctx)
		output, werr := e.executor.Execute(phaseCtx, e.buildRequest(m, current, decision))
		release()
		if werr == nil {
			if err := e.completePhase(m, current, output); err != nil {
				return err
			}
			continue
		}

		switch werr.Kind {
		case phase.FailureConfig:
			proceed, err := e.awaitConfig(ctx, m, current, werr)
			if err != nil || !proceed {
				return err
			}
		default:
			// A cancel that arrived mid-phase surfaces here once the
			// attempt has returned. The run ends canceled, not failed,
			// with the current phase left incomplete.
			if ctx.Err() != nil || e.controller.IsCanceled() {
				return e.cancelRun(m)
			}
			// Transient failures are retried inside the executor; whatever
			// reaches here ends the run.
			if err := e.failRun(m, current, werr); err != nil {
				return err
			}
			return nil
		}
	}
}

// revalidate re-checks every completed phase against the catalog. A phase
// whose artifacts are missing, tampered, or no longer schema-valid loses its
// completed mark and will be re-executed.
func (e *Engine) revalidate(m *models.Manifest) error {
	requested := e.cfg.TargetURL
	if requested == "" {
		requested = m.URL
	}
	if err := e.store.CheckScope(m, requested, e.cfg.Force); err != nil {
		return err
	}

	kept := make([]models.Phase, 0, len(m.CompletedPhases))
	for _, p := range m.CompletedPhases {
		if e.store.Resumable(m, p, requested, e.cfg.Force) {
			kept = append(kept, p)
			continue
		}
		log.Printf("[workflow] phase %s failed revalidation, will re-run", p)
		e.audit("phase_invalidated", p, "artifacts failed revalidation")
		e.emit(Event{Type: EventPhaseInvalidated, Phase: p})
	}
	if len(kept) != len(m.CompletedPhases) {
		m.CompletedPhases = kept
		return e.store.WriteManifest(m)
	}
	return nil
}

// holdAtBoundary observes pause and cancel signals between phases. It
// returns halted=true when the run reached a terminal state here.
func (e *Engine) holdAtBoundary(ctx context.Context, m *models.Manifest) (halted bool, err error) {
	if ctx.Err() != nil || e.controller.IsCanceled() {
		return true, e.cancelRun(m)
	}

	if e.controller.IsPaused() {
		if err := e.setStatus(m, models.RunPaused, ""); err != nil {
			return true, err
		}
		e.emit(Event{Type: EventRunPaused, Phase: m.CurrentPhase})

		waitErr := e.controller.WaitIfPaused(ctx)
		if waitErr != nil {
			return true, e.cancelRun(m)
		}
		if err := e.setStatus(m, models.RunRunning, ""); err != nil {
			return true, err
		}
		e.emit(Event{Type: EventRunResumed, Phase: m.CurrentPhase})
	}
	return false, nil
}

// cancelableContext derives the context a phase executes under: it ends
// when the parent ends or when the operator cancels the run, so a blocking
// worker unwinds and the executor stops retrying between attempts. The
// returned release function must be called once the phase has returned.
func (e *Engine) cancelableContext(ctx context.Context) (context.Context, context.CancelFunc) {
	phaseCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-e.controller.Done():
			cancel()
		case <-phaseCtx.Done():
		}
	}()
	return phaseCtx, cancel
}

func (e *Engine) buildRequest(m *models.Manifest, current models.Phase, decision rules.Decision) phase.Request {
	return phase.Request{
		Phase:          current,
		Workspace:      m.Workspace,
		Targets:        agent.TargetsFor(current, decision),
		RepoPath:       m.RepoPath,
		TargetURL:      m.URL,
		PriorArtifacts: priorArtifacts(m, current),
		ArtifactsRoot:  e.store.Base(),
		PromptsDir:     e.store.PromptsDir(),
	}
}

// priorArtifacts returns catalog entries from phases ordered before current.
func priorArtifacts(m *models.Manifest, current models.Phase) []models.CatalogEntry {
	var prior []models.CatalogEntry
	for _, p := range m.Phases {
		if p == current {
			break
		}
		prior = append(prior, m.CatalogForPhase(p)...)
	}
	return prior
}

func (e *Engine) completePhase(m *models.Manifest, current models.Phase, output *models.PhaseOutput) error {
	if err := e.store.PersistPhaseOutput(m, output); err != nil {
		return err
	}
	m.MarkPhaseComplete(current)
	if err := e.store.WriteManifest(m); err != nil {
		return err
	}
	e.audit("phase_completed", current, output.Summary)
	e.emit(Event{Type: EventPhaseCompleted, Phase: current, Message: output.Summary})
	return nil
}

// completeBlockedPhase records a rule-blocked phase as complete with an
// all-skipped output so the catalog shows the phase was considered, not
// forgotten.
func (e *Engine) completeBlockedPhase(m *models.Manifest, current models.Phase, decision rules.Decision) error {
	var skipped []string
	for _, spec := range rules.AnalyzersFor(current) {
		skipped = append(skipped, spec.Name)
	}
	output := &models.PhaseOutput{
		Phase:       current,
		GeneratedAt: time.Now().UTC(),
		Summary:     decision.BlockedReason,
		Coverage: models.Coverage{
			Attempted: []string{},
			Skipped:   skipped,
		},
	}
	if current == models.PhaseVuln || current == models.PhaseReport {
		output.Artifacts = append(output.Artifacts, models.Artifact{
			Name:     "findings",
			SchemaID: schema.FindingsV1,
			Content:  json.RawMessage(`[]`),
		})
	}

	if err := e.store.PersistPhaseOutput(m, output); err != nil {
		return err
	}
	m.MarkPhaseComplete(current)
	if err := e.store.WriteManifest(m); err != nil {
		return err
	}
	e.audit("phase_blocked", current, decision.BlockedReason)
	e.emit(Event{Type: EventPhaseBlocked, Phase: current, Message: decision.BlockedReason})
	return nil
}

// awaitConfig parks the run in waiting_config until an update_config signal
// arrives, then retries the same phase. proceed=false means the run ended.
func (e *Engine) awaitConfig(ctx context.Context, m *models.Manifest, current models.Phase, werr *phase.WorkerError) (proceed bool, err error) {
	m.Status = models.RunWaitingConfig
	m.WaitingReason = werr.Message
	m.LastError = &models.RunError{Kind: string(werr.Kind), Message: werr.Message}
	if err := e.store.WriteManifest(m); err != nil {
		return false, err
	}
	e.audit("waiting_config", current, werr.Message)
	e.emit(Event{Type: EventWaitingConfig, Phase: current, Message: werr.Message, Err: werr})

	path, waitErr := e.controller.AwaitConfig(ctx, e.cfg.ConfigWindow)
	switch {
	case waitErr == nil:
		if e.cfg.Reload != nil {
			if reloadErr := e.cfg.Reload(path); reloadErr != nil {
				log.Printf("[workflow] reload of %s failed: %v", path, reloadErr)
				// The phase retry will reclassify whatever is still wrong.
			}
		}
		m.Status = models.RunRunning
		m.WaitingReason = ""
		m.PendingConfigPath = ""
		if err := e.store.WriteManifest(m); err != nil {
			return false, err
		}
		e.audit("config_updated", current, path)
		e.emit(Event{Type: EventConfigUpdated, Phase: current, Message: path})
		return true, nil
	case waitErr == ErrConfigTimeout:
		return false, e.failRun(m, current, werr)
	default:
		return false, e.cancelRun(m)
	}
}

func (e *Engine) cancelRun(m *models.Manifest) error {
	if err := e.setStatus(m, models.RunCanceled, ""); err != nil {
		return err
	}
	e.audit("run_canceled", m.CurrentPhase, "")
	e.emit(Event{Type: EventRunCanceled, Phase: m.CurrentPhase})
	return nil
}

func (e *Engine) failRun(m *models.Manifest, current models.Phase, werr *phase.WorkerError) error {
	m.Status = models.RunFailed
	m.WaitingReason = ""
	m.LastError = &models.RunError{Kind: string(werr.Kind), Message: werr.Message}
	if err := e.store.WriteManifest(m); err != nil {
		return err
	}
	e.audit("run_failed", current, werr.Message)
	e.emit(Event{Type: EventRunFailed, Phase: current, Err: werr})
	return nil
}

func (e *Engine) setStatus(m *models.Manifest, status models.RunStatus, reason string) error {
	m.Status = status
	m.WaitingReason = reason
	return e.store.WriteManifest(m)
}

func (e *Engine) audit(event string, p models.Phase, detail string) {
	entry := map[string]any{"event": event}
	if p != "" {
		entry["phase"] = string(p)
	}
	if detail != "" {
		entry["detail"] = detail
	}
	e.store.Audit().Append(entry)
}

func (e *Engine) emit(event Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}
