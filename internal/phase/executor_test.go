package phase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pentra-dev/pentra/internal/llm"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/pkg/models"
)

// fakeWorker returns scripted results, one per attempt.
type fakeWorker struct {
	results []workerResult
	calls   int
	lastReq Request
}

type workerResult struct {
	output *models.PhaseOutput
	err    error
}

func (f *fakeWorker) RunPhase(ctx context.Context, req Request) (*models.PhaseOutput, error) {
	f.lastReq = req
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	res := f.results[idx]
	return res.output, res.err
}

func validOutput(phase models.Phase) *models.PhaseOutput {
	return &models.PhaseOutput{
		Phase:       phase,
		GeneratedAt: time.Now().UTC(),
		Summary:     "completed without findings",
		Coverage: models.Coverage{
			Attempted: []string{"repo_inventory"},
		},
	}
}

func newTestExecutor(t *testing.T, worker Worker, decls []rules.Decl) *Executor {
	t.Helper()
	var set *rules.RuleSet
	if decls != nil {
		var err error
		set, err = rules.Compile(decls)
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
	}
	cfg := DefaultExecutorConfig()
	exec := NewExecutor(worker, set, cfg)
	exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return exec
}

func TestExecuteSuccess(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{{output: validOutput(models.PhaseRecon)}}}
	exec := newTestExecutor(t, worker, nil)

	output, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseRecon})
	if werr != nil {
		t.Fatalf("Execute() error = %v", werr)
	}
	if output.Phase != models.PhaseRecon {
		t.Errorf("output phase = %s, want recon", output.Phase)
	}
	if worker.calls != 1 {
		t.Errorf("worker calls = %d, want 1", worker.calls)
	}
}

func TestExecuteConfigFailureNoRetry(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: llm.NewProviderError(llm.KindConfigRequired, "missing env var: ANTHROPIC_API_KEY")},
	}}
	exec := newTestExecutor(t, worker, nil)

	_, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseIntake})
	if werr == nil {
		t.Fatal("Execute() succeeded, want config failure")
	}
	if werr.Kind != FailureConfig {
		t.Errorf("kind = %s, want config", werr.Kind)
	}
	if worker.calls != 1 {
		t.Errorf("worker calls = %d, want 1 (config failures must not retry)", worker.calls)
	}
}

func TestExecuteTransientThenSuccess(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: llm.NewProviderError(llm.KindTransient, "rate limited")},
		{output: validOutput(models.PhaseVuln)},
	}}
	exec := newTestExecutor(t, worker, nil)

	output, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseVuln})
	if werr != nil {
		t.Fatalf("Execute() error = %v", werr)
	}
	if output == nil {
		t.Fatal("output is nil")
	}
	if worker.calls != 2 {
		t.Errorf("worker calls = %d, want 2", worker.calls)
	}
}

func TestExecuteTransientExhaustionEscalatesFatal(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: llm.NewProviderError(llm.KindTransient, "service temporarily unavailable")},
	}}
	exec := newTestExecutor(t, worker, nil)

	_, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseRecon})
	if werr == nil {
		t.Fatal("Execute() succeeded, want fatal failure")
	}
	if werr.Kind != FailureFatal {
		t.Errorf("kind = %s, want fatal after budget exhaustion", werr.Kind)
	}
	if worker.calls != 3 {
		t.Errorf("worker calls = %d, want 3", worker.calls)
	}
	var inner *WorkerError
	if !errors.As(werr.Wrapped, &inner) || inner.Kind != FailureTransient {
		t.Errorf("wrapped error should carry the last transient failure, got %v", werr.Wrapped)
	}
}

func TestExecuteTimeoutIsTransient(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: context.DeadlineExceeded},
		{output: validOutput(models.PhasePrerecon)},
	}}
	exec := newTestExecutor(t, worker, nil)

	_, werr := exec.Execute(context.Background(), Request{Phase: models.PhasePrerecon})
	if werr != nil {
		t.Fatalf("Execute() error = %v, want retry after timeout", werr)
	}
	if worker.calls != 2 {
		t.Errorf("worker calls = %d, want 2", worker.calls)
	}
}

func TestExecuteWrongPhaseOutputIsFatal(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{output: validOutput(models.PhaseReport)},
	}}
	exec := newTestExecutor(t, worker, nil)

	_, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseRecon})
	if werr == nil {
		t.Fatal("Execute() succeeded with mismatched phase output")
	}
	if werr.Kind != FailureFatal {
		t.Errorf("kind = %s, want fatal", werr.Kind)
	}
	if worker.calls != 1 {
		t.Errorf("worker calls = %d, want 1 (shape failures must not retry)", worker.calls)
	}
}

func TestExecuteInvalidArtifactIsFatal(t *testing.T) {
	output := validOutput(models.PhaseVuln)
	output.Artifacts = []models.Artifact{{
		Name:     "findings",
		SchemaID: schema.FindingsV1,
		Content:  json.RawMessage(`{"unexpected_field": true}`),
	}}
	worker := &fakeWorker{results: []workerResult{{output: output}}}
	exec := newTestExecutor(t, worker, nil)

	_, werr := exec.Execute(context.Background(), Request{Phase: models.PhaseVuln})
	if werr == nil {
		t.Fatal("Execute() succeeded with invalid artifact")
	}
	if werr.Kind != FailureFatal {
		t.Errorf("kind = %s, want fatal", werr.Kind)
	}
}

func TestExecuteGatesBlockedTargets(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{{output: validOutput(models.PhaseRecon)}}}
	decls := []rules.Decl{
		{Action: rules.ActionAvoid, Type: rules.TargetHost, Value: "*.internal.example.com"},
	}
	exec := newTestExecutor(t, worker, decls)

	req := Request{
		Phase: models.PhaseRecon,
		Targets: []rules.Target{
			{Phase: models.PhaseRecon, Analyzer: "attack_surface_mapper", Host: "api.example.com"},
			{Phase: models.PhaseRecon, Analyzer: "attack_surface_mapper", Host: "db.internal.example.com"},
		},
	}
	if _, werr := exec.Execute(context.Background(), req); werr != nil {
		t.Fatalf("Execute() error = %v", werr)
	}
	if len(worker.lastReq.Targets) != 1 {
		t.Fatalf("worker saw %d targets, want 1", len(worker.lastReq.Targets))
	}
	if worker.lastReq.Targets[0].Host != "api.example.com" {
		t.Errorf("surviving target host = %s, want api.example.com", worker.lastReq.Targets[0].Host)
	}
}

func TestExecuteCancelDuringBackoff(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: llm.NewProviderError(llm.KindTransient, "overloaded")},
	}}
	exec := newTestExecutor(t, worker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.sleep = func(sctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(sctx, d)
	}

	_, werr := exec.Execute(ctx, Request{Phase: models.PhaseIntake})
	if werr == nil {
		t.Fatal("Execute() succeeded, want cancellation failure")
	}
	if werr.Kind != FailureFatal {
		t.Errorf("kind = %s, want fatal", werr.Kind)
	}
	if worker.calls != 1 {
		t.Errorf("worker calls = %d, want 1", worker.calls)
	}
}

func TestExecutePendingCancelForfeitsRetries(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{
		{err: llm.NewProviderError(llm.KindTransient, "overloaded")},
	}}
	exec := newTestExecutor(t, worker, nil)

	// The sleep ignores the context. The attempt loop itself must notice
	// the cancel and forfeit the remaining budget.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	_, werr := exec.Execute(ctx, Request{Phase: models.PhaseIntake})
	if werr == nil {
		t.Fatal("Execute() succeeded, want cancellation failure")
	}
	if werr.Kind != FailureFatal {
		t.Errorf("kind = %s, want fatal", werr.Kind)
	}
	if !errors.Is(werr.Wrapped, context.Canceled) {
		t.Errorf("wrapped = %v, want context.Canceled", werr.Wrapped)
	}
	if worker.calls != 1 {
		t.Errorf("worker calls = %d, want 1", worker.calls)
	}
}

func TestExecuteCanceledContextSkipsWorker(t *testing.T) {
	worker := &fakeWorker{results: []workerResult{{output: validOutput(models.PhaseIntake)}}}
	exec := newTestExecutor(t, worker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, werr := exec.Execute(ctx, Request{Phase: models.PhaseIntake})
	if werr == nil {
		t.Fatal("Execute() succeeded, want cancellation failure")
	}
	if worker.calls != 0 {
		t.Errorf("worker calls = %d, want 0", worker.calls)
	}
}

func TestExecutorConfigValidate(t *testing.T) {
	cfg := ExecutorConfig{Timeout: -1, MaxAttempts: 0, BackoffFactor: 0.5}
	cfg.Validate()
	def := DefaultExecutorConfig()
	if cfg.Timeout != def.Timeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, def.Timeout)
	}
	if cfg.MaxAttempts != def.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, def.MaxAttempts)
	}
	if cfg.BackoffFactor != def.BackoffFactor {
		t.Errorf("BackoffFactor = %v, want %v", cfg.BackoffFactor, def.BackoffFactor)
	}
}

func TestBackoffProgression(t *testing.T) {
	exec := NewExecutor(nil, nil, DefaultExecutorConfig())
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := exec.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
