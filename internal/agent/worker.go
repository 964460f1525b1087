// Package agent provides the built-in safe-mode phase worker. It performs
// read-only analysis only: no exploitation, no credential use, no traffic
// toward the target beyond what the operator explicitly configured.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pentra-dev/pentra/internal/llm"
	"github.com/pentra-dev/pentra/internal/phase"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/internal/scope"
	"github.com/pentra-dev/pentra/pkg/models"
)

// SafeWorker is the default phase worker. Before doing any work it health
// checks the provider so that credential problems surface as config failures
// up front instead of mid-phase. Every invocation leaves a prompt snapshot
// on disk for audit.
type SafeWorker struct {
	health  llm.HealthChecker
	model   string
	ruleSet *rules.RuleSet
}

// NewSafeWorker creates a worker backed by the given provider. A nil health
// checker skips the provider check, which is only appropriate in tests.
func NewSafeWorker(health llm.HealthChecker, model string, ruleSet *rules.RuleSet) *SafeWorker {
	return &SafeWorker{health: health, model: model, ruleSet: ruleSet}
}

// RunPhase executes one phase in safe mode.
func (w *SafeWorker) RunPhase(ctx context.Context, req phase.Request) (*models.PhaseOutput, error) {
	if w.health != nil {
		if err := w.health.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("provider health check: %w", err)
		}
	}

	if err := w.snapshotPrompt(req); err != nil {
		// A missing snapshot degrades auditability but does not invalidate
		// the phase result.
		log.Printf("[agent] prompt snapshot for %s failed: %v", req.Phase, err)
	}

	attempted := make([]string, 0, len(req.Targets))
	seen := make(map[string]bool)
	for _, target := range req.Targets {
		if target.Analyzer == "" || seen[target.Analyzer] {
			continue
		}
		seen[target.Analyzer] = true
		attempted = append(attempted, target.Analyzer)
	}

	output := &models.PhaseOutput{
		Phase:       req.Phase,
		GeneratedAt: time.Now().UTC(),
		Summary:     w.summarize(req, attempted),
		Coverage: models.Coverage{
			Attempted: attempted,
		},
	}

	if req.Phase == models.PhaseIntake {
		contract, err := w.buildScopeContract(req)
		if err != nil {
			return nil, err
		}
		output.Artifacts = append(output.Artifacts, *contract)
	}

	if req.Phase == models.PhaseVuln || req.Phase == models.PhaseReport {
		// Safe mode never asserts findings it has not verified; the list
		// starts empty and is filled in by operator-reviewed analysis.
		output.Artifacts = append(output.Artifacts, models.Artifact{
			Name:     "findings",
			SchemaID: schema.FindingsV1,
			Content:  json.RawMessage(`[]`),
		})
	}

	return output, nil
}

// buildScopeContract produces the intake phase's scope_contract artifact.
// The safe worker always records safe mode and no network discovery; an
// operator confirming authorization is a precondition of starting a run.
func (w *SafeWorker) buildScopeContract(req phase.Request) (*models.Artifact, error) {
	contract, err := scope.BuildContract(scope.ContractInput{
		TargetURL:  req.TargetURL,
		RepoPath:   req.RepoPath,
		Workspace:  req.Workspace,
		Authorized: true,
		SafeMode:   true,
		RuleSet:    w.ruleSet,
	})
	if err != nil {
		return nil, fmt.Errorf("build scope contract: %w", err)
	}
	content, err := json.Marshal(contract)
	if err != nil {
		return nil, fmt.Errorf("marshal scope contract: %w", err)
	}
	return &models.Artifact{
		Name:     "scope_contract",
		SchemaID: schema.ScopeV1,
		Content:  content,
	}, nil
}

func (w *SafeWorker) summarize(req phase.Request, attempted []string) string {
	if len(attempted) == 0 {
		return fmt.Sprintf("phase %s completed with no eligible analyzers", req.Phase)
	}
	return fmt.Sprintf("phase %s ran %d analyzer(s) in safe mode: %s",
		req.Phase, len(attempted), strings.Join(attempted, ", "))
}

// snapshotPrompt writes the exact instruction text the phase ran under to
// prompts/<phase>.md so a reviewer can reconstruct what was asked.
func (w *SafeWorker) snapshotPrompt(req phase.Request) error {
	if req.PromptsDir == "" {
		return nil
	}
	if err := os.MkdirAll(req.PromptsDir, 0o755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}
	path := filepath.Join(req.PromptsDir, string(req.Phase)+".md")
	return os.WriteFile(path, []byte(w.buildPrompt(req)), 0o644)
}

func (w *SafeWorker) buildPrompt(req phase.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase: %s\n\n", req.Phase)
	if w.model != "" {
		fmt.Fprintf(&b, "Model: %s\n", w.model)
	}
	if req.TargetURL != "" {
		fmt.Fprintf(&b, "Target: %s\n", req.TargetURL)
	}
	if req.RepoPath != "" {
		fmt.Fprintf(&b, "Repository: %s\n", req.RepoPath)
	}
	b.WriteString("\nMode: safe (read-only analysis, no exploitation)\n")

	if len(req.Targets) > 0 {
		b.WriteString("\n## Analyzers\n\n")
		for _, target := range req.Targets {
			fmt.Fprintf(&b, "- %s\n", target.Analyzer)
		}
	}
	if len(req.PriorArtifacts) > 0 {
		b.WriteString("\n## Prior artifacts\n\n")
		for _, entry := range req.PriorArtifacts {
			fmt.Fprintf(&b, "- %s (%s)\n", entry.Path, entry.SchemaID)
		}
	}
	return b.String()
}

// TargetsFor builds the executor request targets for a phase from a rule
// plan decision: one target per selected analyzer, carrying its tags so
// invocation-time gating sees the same surface the planner saw.
func TargetsFor(p models.Phase, decision rules.Decision) []rules.Target {
	targets := make([]rules.Target, 0, len(decision.Selected))
	for _, name := range decision.Selected {
		target := rules.Target{Phase: p, Analyzer: name}
		for _, spec := range rules.AnalyzersFor(p) {
			if spec.Name == name {
				target.Tags = spec.Tags
				break
			}
		}
		targets = append(targets, target)
	}
	return targets
}
