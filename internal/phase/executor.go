package phase

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/pentra-dev/pentra/internal/llm"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/pkg/models"
)

// ExecutorConfig bounds one phase invocation.
type ExecutorConfig struct {
	// Timeout is the wall-clock budget for a single attempt.
	Timeout time.Duration
	// MaxAttempts is the total attempt budget for transient failures.
	MaxAttempts int
	// BackoffInitial is the delay before the second attempt.
	BackoffInitial time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64
	// BackoffMax caps the delay between attempts.
	BackoffMax time.Duration
}

// DefaultExecutorConfig returns the standard execution bounds.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:        10 * time.Minute,
		MaxAttempts:    3,
		BackoffInitial: 2 * time.Second,
		BackoffFactor:  2.0,
		BackoffMax:     30 * time.Second,
	}
}

// Validate clamps out-of-range values back to defaults.
func (c *ExecutorConfig) Validate() {
	def := DefaultExecutorConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = def.BackoffInitial
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = def.BackoffMax
	}
}

// Executor invokes one phase worker at a time under the configured bounds.
// The rule set is re-checked per target at invocation time so that rule
// evaluation cannot be bypassed by dynamic worker behavior.
type Executor struct {
	worker  Worker
	ruleSet *rules.RuleSet
	cfg     ExecutorConfig

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor around a worker and a compiled rule set.
func NewExecutor(worker Worker, ruleSet *rules.RuleSet, cfg ExecutorConfig) *Executor {
	cfg.Validate()
	return &Executor{
		worker:  worker,
		ruleSet: ruleSet,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// Execute runs the phase. On success the returned output has passed shape
// validation. On failure the returned error is always a *WorkerError with
// a classified kind; the state machine never sees an unclassified error.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.PhaseOutput, *WorkerError) {
	req.Targets = e.gateTargets(req)

	var lastErr *WorkerError
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		// A cancel between attempts forfeits the remaining retry budget.
		if err := ctx.Err(); err != nil {
			return nil, classifyFailure(err)
		}
		output, werr := e.runOnce(ctx, req)
		if werr == nil {
			return output, nil
		}

		switch werr.Kind {
		case FailureConfig, FailureFatal:
			return nil, werr
		}

		lastErr = werr
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.backoff(attempt)
		log.Printf("[executor] phase %s attempt %d/%d failed (%s), retrying in %s: %s",
			req.Phase, attempt, e.cfg.MaxAttempts, werr.Kind, delay, werr.Message)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, &WorkerError{Kind: FailureFatal, Message: "canceled while waiting to retry", Wrapped: err}
		}
	}

	// Retry budget exhausted escalates to fatal.
	return nil, &WorkerError{
		Kind:    FailureFatal,
		Message: "retry budget exhausted: " + lastErr.Message,
		Wrapped: lastErr,
	}
}

// gateTargets drops any target a compiled avoid rule blocks right now.
func (e *Executor) gateTargets(req Request) []rules.Target {
	if e.ruleSet == nil {
		return req.Targets
	}
	var allowed []rules.Target
	for _, target := range req.Targets {
		if blocked, rule := e.ruleSet.Gate(target); blocked {
			log.Printf("[executor] target %s/%s blocked at invocation by avoid rule %s=%q",
				target.Phase, target.Analyzer, rule.Type, rule.Value)
			continue
		}
		allowed = append(allowed, target)
	}
	return allowed
}

func (e *Executor) runOnce(ctx context.Context, req Request) (*models.PhaseOutput, *WorkerError) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	output, err := e.worker.RunPhase(attemptCtx, req)
	if err != nil {
		return nil, classifyFailure(err)
	}
	if werr := validateShape(req.Phase, output); werr != nil {
		return nil, werr
	}
	return output, nil
}

// validateShape enforces the narrow typed boundary: the worker's result
// must be a schema-valid phase output for the requested phase. Anything
// else is rejected wholesale, never partially trusted.
func validateShape(phase models.Phase, output *models.PhaseOutput) *WorkerError {
	if output == nil {
		return &WorkerError{Kind: FailureFatal, Message: "worker returned no output"}
	}
	if output.Phase != phase {
		return &WorkerError{Kind: FailureFatal, Message: "worker returned output for phase " + string(output.Phase) + ", expected " + string(phase)}
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return &WorkerError{Kind: FailureFatal, Message: "marshal worker output: " + err.Error(), Wrapped: err}
	}
	if err := schema.Validate(schema.PhaseOutputV1, raw); err != nil {
		return &WorkerError{Kind: FailureFatal, Message: "worker output failed validation: " + err.Error(), Wrapped: err}
	}
	for _, artifact := range output.Artifacts {
		if err := schema.Validate(artifact.SchemaID, artifact.Content); err != nil {
			return &WorkerError{Kind: FailureFatal, Message: "artifact " + artifact.Name + " failed validation: " + err.Error(), Wrapped: err}
		}
	}
	return nil
}

// classifyFailure turns an arbitrary worker error into a WorkerError.
func classifyFailure(err error) *WorkerError {
	var werr *WorkerError
	if errors.As(err, &werr) {
		return werr
	}

	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		return &WorkerError{Kind: kindForProvider(perr.Kind), Message: perr.Message, Wrapped: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &WorkerError{Kind: FailureTransient, Message: "phase timed out", Wrapped: err}
	}
	if errors.Is(err, context.Canceled) {
		return &WorkerError{Kind: FailureFatal, Message: "phase canceled", Wrapped: err}
	}
	return &WorkerError{Kind: FailureFatal, Message: err.Error(), Wrapped: err}
}

func kindForProvider(kind llm.ErrorKind) FailureKind {
	switch kind {
	case llm.KindConfigRequired:
		return FailureConfig
	case llm.KindTransient:
		return FailureTransient
	default:
		return FailureFatal
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.cfg.BackoffFactor)
		if delay >= e.cfg.BackoffMax {
			return e.cfg.BackoffMax
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
