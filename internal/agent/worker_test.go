package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pentra-dev/pentra/internal/phase"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/pkg/models"
)

type stubHealth struct {
	err   error
	calls int
}

func (s *stubHealth) HealthCheck(ctx context.Context) error {
	s.calls++
	return s.err
}

func reconRequest(promptsDir string) phase.Request {
	return phase.Request{
		Phase: models.PhaseRecon,
		Targets: []rules.Target{
			{Phase: models.PhaseRecon, Analyzer: "attack_surface_mapper"},
			{Phase: models.PhaseRecon, Analyzer: "auth_model_builder"},
		},
		TargetURL:  "https://staging.example.com",
		PromptsDir: promptsDir,
	}
}

func TestRunPhaseHealthCheckFirst(t *testing.T) {
	health := &stubHealth{err: errors.New("missing env var: ANTHROPIC_API_KEY")}
	worker := NewSafeWorker(health, "claude-sonnet-4-5", nil)

	_, err := worker.RunPhase(context.Background(), reconRequest(t.TempDir()))
	if err == nil {
		t.Fatal("RunPhase() succeeded with failing health check")
	}
	if health.calls != 1 {
		t.Errorf("health checks = %d, want 1", health.calls)
	}
}

func TestRunPhaseOutput(t *testing.T) {
	worker := NewSafeWorker(&stubHealth{}, "claude-sonnet-4-5", nil)

	output, err := worker.RunPhase(context.Background(), reconRequest(t.TempDir()))
	if err != nil {
		t.Fatalf("RunPhase() error = %v", err)
	}
	if output.Phase != models.PhaseRecon {
		t.Errorf("phase = %s, want recon", output.Phase)
	}
	if len(output.Coverage.Attempted) != 2 {
		t.Errorf("attempted = %v, want both analyzers", output.Coverage.Attempted)
	}
	if output.Summary == "" {
		t.Error("summary is empty")
	}
}

func TestRunPhaseDeduplicatesAnalyzers(t *testing.T) {
	worker := NewSafeWorker(nil, "", nil)
	req := phase.Request{
		Phase: models.PhaseVuln,
		Targets: []rules.Target{
			{Phase: models.PhaseVuln, Analyzer: "config_review", Host: "a.example.com"},
			{Phase: models.PhaseVuln, Analyzer: "config_review", Host: "b.example.com"},
		},
	}
	output, err := worker.RunPhase(context.Background(), req)
	if err != nil {
		t.Fatalf("RunPhase() error = %v", err)
	}
	if len(output.Coverage.Attempted) != 1 {
		t.Errorf("attempted = %v, want deduplicated", output.Coverage.Attempted)
	}
}

func TestRunPhaseFindingsArtifact(t *testing.T) {
	worker := NewSafeWorker(nil, "", nil)
	for _, p := range []models.Phase{models.PhaseVuln, models.PhaseReport} {
		output, err := worker.RunPhase(context.Background(), phase.Request{Phase: p})
		if err != nil {
			t.Fatalf("RunPhase(%s) error = %v", p, err)
		}
		artifact := output.ArtifactByName("findings")
		if artifact == nil {
			t.Fatalf("phase %s missing findings artifact", p)
		}
		if string(artifact.Content) != "[]" {
			t.Errorf("phase %s findings = %s, want empty list", p, artifact.Content)
		}
	}
}

func TestRunPhaseIntakeScopeContract(t *testing.T) {
	worker := NewSafeWorker(nil, "", nil)
	req := phase.Request{
		Phase:     models.PhaseIntake,
		Workspace: "acme",
		TargetURL: "https://staging.example.com/app",
		RepoPath:  "/srv/repos/acme",
	}
	output, err := worker.RunPhase(context.Background(), req)
	if err != nil {
		t.Fatalf("RunPhase(intake) error = %v", err)
	}
	if output.ArtifactByName("findings") != nil {
		t.Error("intake should not emit a findings artifact")
	}
	artifact := output.ArtifactByName("scope_contract")
	if artifact == nil {
		t.Fatal("intake missing scope_contract artifact")
	}
	if err := schema.Validate(schema.ScopeV1, artifact.Content); err != nil {
		t.Errorf("scope contract invalid: %v", err)
	}
}

func TestRunPhaseIntakeBadTargetURL(t *testing.T) {
	worker := NewSafeWorker(nil, "", nil)
	req := phase.Request{
		Phase:     models.PhaseIntake,
		Workspace: "acme",
		TargetURL: "ftp://example.com",
	}
	if _, err := worker.RunPhase(context.Background(), req); err == nil {
		t.Fatal("RunPhase(intake) accepted a non-http target")
	}
}

func TestRunPhasePromptSnapshot(t *testing.T) {
	dir := t.TempDir()
	worker := NewSafeWorker(nil, "claude-sonnet-4-5", nil)

	if _, err := worker.RunPhase(context.Background(), reconRequest(dir)); err != nil {
		t.Fatalf("RunPhase() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "recon.md"))
	if err != nil {
		t.Fatalf("read prompt snapshot: %v", err)
	}
	text := string(data)
	for _, want := range []string{"Phase: recon", "https://staging.example.com", "attack_surface_mapper", "safe"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt snapshot missing %q", want)
		}
	}
}

func TestTargetsFor(t *testing.T) {
	rs, err := rules.Compile(nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	decision := rs.Plan(models.PhaseRecon, rules.AnalyzersFor(models.PhaseRecon))

	targets := TargetsFor(models.PhaseRecon, decision)
	if len(targets) != len(decision.Selected) {
		t.Fatalf("targets = %d, want %d", len(targets), len(decision.Selected))
	}
	for _, target := range targets {
		if target.Phase != models.PhaseRecon {
			t.Errorf("target phase = %s, want recon", target.Phase)
		}
		if target.Analyzer == "data_flow_mapper" && len(target.Tags) == 0 {
			t.Error("data_flow_mapper target lost its tags")
		}
	}
}
