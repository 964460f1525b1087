// Package schema validates phase artifacts against their declared schema
// identifiers. The executor and the artifact store both refuse content that
// does not validate; nothing is partially trusted.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pentra-dev/pentra/internal/scope"
	"github.com/pentra-dev/pentra/pkg/models"
)

// Known schema identifiers. Workers declare one of these per artifact.
const (
	PhaseOutputV1 = "pentra.phase_output@v1"
	CoverageV1    = "pentra.coverage@v1"
	SummaryV1     = "pentra.summary@v1"
	FindingsV1    = "pentra.findings@v1"
	ManifestV1    = "pentra.manifest@v1"
	ScopeV1       = "pentra.scope_contract@v1"
)

// ValidationError reports content that fails its declared schema.
type ValidationError struct {
	SchemaID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: %s", e.SchemaID, e.Reason)
}

func invalid(schemaID, format string, args ...any) *ValidationError {
	return &ValidationError{SchemaID: schemaID, Reason: fmt.Sprintf(format, args...)}
}

type validator func(content []byte) *ValidationError

var validators = map[string]validator{
	PhaseOutputV1: validatePhaseOutput,
	CoverageV1:    validateCoverage,
	SummaryV1:     validateSummary,
	FindingsV1:    validateFindings,
	ManifestV1:    validateManifest,
	ScopeV1:       validateScope,
}

// Known reports whether schemaID has a registered validator.
func Known(schemaID string) bool {
	_, ok := validators[schemaID]
	return ok
}

// Validate checks content against the named schema. A nil return means the
// content is acceptable. An unknown schema is itself a validation error.
func Validate(schemaID string, content []byte) error {
	v, ok := validators[schemaID]
	if !ok {
		return invalid(schemaID, "unknown schema identifier")
	}
	if err := v(content); err != nil {
		return err
	}
	return nil
}

func validatePhaseOutput(content []byte) *ValidationError {
	var out models.PhaseOutput
	if err := strictUnmarshal(content, &out); err != nil {
		return invalid(PhaseOutputV1, "malformed JSON: %v", err)
	}
	if !out.Phase.IsValid() {
		return invalid(PhaseOutputV1, "unknown phase %q", out.Phase)
	}
	if out.Summary == "" {
		return invalid(PhaseOutputV1, "summary must not be empty")
	}
	for _, a := range out.Artifacts {
		if a.Name == "" {
			return invalid(PhaseOutputV1, "artifact with empty name")
		}
		if a.SchemaID == "" {
			return invalid(PhaseOutputV1, "artifact %q missing schema_id", a.Name)
		}
	}
	for _, ev := range out.Evidence {
		if ev.ID == "" || ev.Path == "" {
			return invalid(PhaseOutputV1, "evidence refs require id and path")
		}
	}
	return nil
}

func validateCoverage(content []byte) *ValidationError {
	var cov struct {
		Phase     string   `json:"phase"`
		Attempted []string `json:"attempted"`
		Skipped   []string `json:"skipped"`
	}
	if err := strictUnmarshal(content, &cov); err != nil {
		return invalid(CoverageV1, "malformed JSON: %v", err)
	}
	if cov.Phase == "" {
		return invalid(CoverageV1, "phase must not be empty")
	}
	if cov.Attempted == nil {
		return invalid(CoverageV1, "attempted list is required")
	}
	return nil
}

func validateSummary(content []byte) *ValidationError {
	var text string
	if err := json.Unmarshal(content, &text); err != nil {
		return invalid(SummaryV1, "summary must be a JSON string: %v", err)
	}
	if text == "" {
		return invalid(SummaryV1, "summary must not be empty")
	}
	return nil
}

func validateFindings(content []byte) *ValidationError {
	var findings []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Severity string `json:"severity"`
	}
	if err := strictUnmarshal(content, &findings); err != nil {
		return invalid(FindingsV1, "malformed JSON: %v", err)
	}
	for _, f := range findings {
		if f.ID == "" || f.Title == "" {
			return invalid(FindingsV1, "findings require id and title")
		}
		switch f.Severity {
		case "info", "low", "medium", "high", "critical":
		default:
			return invalid(FindingsV1, "finding %s has unknown severity %q", f.ID, f.Severity)
		}
	}
	return nil
}

func validateManifest(content []byte) *ValidationError {
	var m models.Manifest
	if err := strictUnmarshal(content, &m); err != nil {
		return invalid(ManifestV1, "malformed JSON: %v", err)
	}
	if m.Workspace == "" || m.RunID == "" {
		return invalid(ManifestV1, "workspace and run_id are required")
	}
	if len(m.Phases) == 0 {
		return invalid(ManifestV1, "phase list must not be empty")
	}
	for _, p := range m.CompletedPhases {
		if !containsPhase(m.Phases, p) {
			return invalid(ManifestV1, "completed phase %q not in declared phases", p)
		}
	}
	return nil
}

func validateScope(content []byte) *ValidationError {
	var c scope.Contract
	if err := strictUnmarshal(content, &c); err != nil {
		return invalid(ScopeV1, "malformed JSON: %v", err)
	}
	if c.TargetURL == "" || c.Workspace == "" {
		return invalid(ScopeV1, "target_url and workspace are required")
	}
	if !c.Authorized {
		return invalid(ScopeV1, "contract must record explicit authorization")
	}
	if c.NormalizedHost == "" {
		return invalid(ScopeV1, "normalized_host must not be empty")
	}
	return nil
}

func containsPhase(phases []models.Phase, p models.Phase) bool {
	for _, candidate := range phases {
		if candidate == p {
			return true
		}
	}
	return false
}

// strictUnmarshal rejects unknown fields so that near-miss payloads are
// caught instead of silently dropped.
func strictUnmarshal(content []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
