// Package phase runs one phase's external worker under a wall-clock
// timeout and a bounded retry budget, and translates arbitrary worker
// failures into the pipeline's three failure kinds. It contains no
// business logic: receive ordered targets, invoke, validate shape,
// classify, return.
package phase

import (
	"context"
	"fmt"

	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/pkg/models"
)

// FailureKind tags a classified phase failure.
type FailureKind string

const (
	// FailureConfig means the worker cannot proceed without corrected
	// credentials or configuration. Never retried automatically.
	FailureConfig FailureKind = "config"
	// FailureTransient covers network, timeout, and rate-limit failures.
	// Retried up to the executor's budget.
	FailureTransient FailureKind = "transient"
	// FailureFatal is any other failure, or an exhausted retry budget.
	FailureFatal FailureKind = "fatal"
)

// WorkerError is a typed failure returned by (or synthesized around) a
// phase worker.
type WorkerError struct {
	Kind    FailureKind
	Message string
	Wrapped error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("phase worker failure (%s): %s", e.Kind, e.Message)
}

func (e *WorkerError) Unwrap() error {
	return e.Wrapped
}

// NewWorkerError creates a classified worker failure.
func NewWorkerError(kind FailureKind, message string) *WorkerError {
	return &WorkerError{Kind: kind, Message: message}
}

// Request is everything the core hands a worker for one phase invocation.
type Request struct {
	// Phase is the phase to execute.
	Phase models.Phase
	// Workspace is the run's workspace name.
	Workspace string
	// Targets is the ordered, rule-filtered execution target list.
	Targets []rules.Target
	// RepoPath is the pre-validated repository root.
	RepoPath string
	// TargetURL is the assessment target.
	TargetURL string
	// PriorArtifacts catalogs the artifacts completed phases produced.
	PriorArtifacts []models.CatalogEntry
	// ArtifactsRoot is the run directory prior artifact paths are
	// relative to.
	ArtifactsRoot string
	// PromptsDir is where the worker may snapshot its prompt I/O. The
	// core never reads it.
	PromptsDir string
}

// Worker executes exactly one phase and returns its output or a typed
// failure. Implementations own any intra-phase parallelism; the core's
// contract is one phase, one timeout, one result.
type Worker interface {
	RunPhase(ctx context.Context, req Request) (*models.PhaseOutput, error)
}
