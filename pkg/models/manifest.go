package models

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunRunning       RunStatus = "running"
	RunPaused        RunStatus = "paused"
	RunWaitingConfig RunStatus = "waiting_config"
	RunCanceled      RunStatus = "canceled"
	RunCompleted     RunStatus = "completed"
	RunFailed        RunStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCanceled, RunCompleted, RunFailed:
		return true
	}
	return false
}

// RunError is the last classified failure recorded for a run.
type RunError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CatalogEntry describes one artifact file recorded in the manifest catalog.
type CatalogEntry struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Phase    Phase  `json:"phase"`
	Artifact string `json:"artifact"`
	SchemaID string `json:"schema_id"`
	Valid    bool   `json:"valid"`
}

// Manifest is the durable record of a run. It is the single source of truth
// for run state: the in-memory engine is a disposable cache rebuilt from it
// on every restart, and no phase is considered complete unless the manifest
// says so.
type Manifest struct {
	Workspace string    `json:"workspace"`
	RunID     string    `json:"run_id"`
	URL       string    `json:"url"`
	RepoPath  string    `json:"repo_path"`
	CreatedAt time.Time `json:"created_at"`

	Phases          []Phase   `json:"phases"`
	CurrentPhase    Phase     `json:"current_phase,omitempty"`
	CompletedPhases []Phase   `json:"completed_phases"`
	Status          RunStatus `json:"status"`
	WaitingReason   string    `json:"waiting_reason,omitempty"`
	LastError       *RunError `json:"last_error,omitempty"`

	// PendingConfigPath points at a corrected configuration supplied through
	// an update_config signal that has not yet been consumed.
	PendingConfigPath string `json:"pending_config_path,omitempty"`

	Catalog []CatalogEntry `json:"catalog"`
}

// NewManifest creates a manifest for a fresh run in the Running state.
func NewManifest(workspace, runID, url, repoPath string, phases []Phase) *Manifest {
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	return &Manifest{
		Workspace:       workspace,
		RunID:           runID,
		URL:             url,
		RepoPath:        repoPath,
		CreatedAt:       time.Now().UTC(),
		Phases:          phases,
		CurrentPhase:    phases[0],
		CompletedPhases: []Phase{},
		Status:          RunRunning,
		Catalog:         []CatalogEntry{},
	}
}

// PhaseComplete reports whether the manifest marks phase p complete.
func (m *Manifest) PhaseComplete(p Phase) bool {
	for _, done := range m.CompletedPhases {
		if done == p {
			return true
		}
	}
	return false
}

// MarkPhaseComplete records p as complete and clears any stale error.
// Marking the same phase twice is a no-op.
func (m *Manifest) MarkPhaseComplete(p Phase) {
	m.CurrentPhase = p
	if !m.PhaseComplete(p) {
		m.CompletedPhases = append(m.CompletedPhases, p)
	}
	m.LastError = nil
}

// FirstIncomplete returns the first phase in declared order that is not
// marked complete. ok is false when every phase is complete.
func (m *Manifest) FirstIncomplete() (phase Phase, ok bool) {
	for _, p := range m.Phases {
		if !m.PhaseComplete(p) {
			return p, true
		}
	}
	return "", false
}

// CatalogForPhase returns the catalog entries produced by phase p.
func (m *Manifest) CatalogForPhase(p Phase) []CatalogEntry {
	var entries []CatalogEntry
	for _, e := range m.Catalog {
		if e.Phase == p {
			entries = append(entries, e)
		}
	}
	return entries
}

// UpsertCatalogEntry replaces the entry with the same path or appends it.
func (m *Manifest) UpsertCatalogEntry(entry CatalogEntry) {
	for i, e := range m.Catalog {
		if e.Path == entry.Path {
			m.Catalog[i] = entry
			return
		}
	}
	m.Catalog = append(m.Catalog, entry)
}
