package models

import (
	"encoding/json"
	"time"
)

// EvidenceRef points into another artifact on disk. Evidence is always a
// reference, never inline content, so secrets cannot leak into summaries.
type EvidenceRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Note string `json:"note,omitempty"`
}

// Coverage records what a phase worker attempted versus skipped.
type Coverage struct {
	Attempted []string `json:"attempted"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Artifact is one named output of a phase, carrying the schema identifier
// its content claims to satisfy. Content is kept raw; validation happens at
// the executor boundary before the artifact is trusted.
type Artifact struct {
	Name     string          `json:"name"`
	SchemaID string          `json:"schema_id"`
	Content  json.RawMessage `json:"content"`
}

// PhaseOutput is the complete result of one phase returned by a worker.
// It is immutable once indexed by the artifact store.
type PhaseOutput struct {
	Phase       Phase         `json:"phase"`
	GeneratedAt time.Time     `json:"generated_at"`
	Summary     string        `json:"summary"`
	Evidence    []EvidenceRef `json:"evidence,omitempty"`
	Coverage    Coverage      `json:"coverage"`
	Artifacts   []Artifact    `json:"artifacts"`
}

// ArtifactByName returns the named artifact, or nil if absent.
func (o *PhaseOutput) ArtifactByName(name string) *Artifact {
	for i := range o.Artifacts {
		if o.Artifacts[i].Name == name {
			return &o.Artifacts[i]
		}
	}
	return nil
}
