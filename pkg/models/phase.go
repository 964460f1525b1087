// Package models defines the shared value types for pentra runs:
// phases, phase outputs, and the durable run manifest.
package models

// Phase is one ordered stage of the assessment pipeline.
type Phase string

const (
	PhaseIntake   Phase = "intake"
	PhasePrerecon Phase = "prerecon"
	PhaseRecon    Phase = "recon"
	PhaseVuln     Phase = "vuln"
	PhaseReport   Phase = "report"
)

// DefaultPhases returns the canonical phase order. Each phase consumes the
// artifacts of its predecessors, so the order is fixed.
func DefaultPhases() []Phase {
	return []Phase{PhaseIntake, PhasePrerecon, PhaseRecon, PhaseVuln, PhaseReport}
}

// IsValid reports whether p names a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIntake, PhasePrerecon, PhaseRecon, PhaseVuln, PhaseReport:
		return true
	}
	return false
}

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}
