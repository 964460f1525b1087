// Package store persists run outputs under the runs/<workspace>/<run_id>
// hierarchy and owns the manifest: the durable record of run state and the
// content-hash catalog of every artifact produced so far. No other
// component writes run state to storage.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/pkg/models"
)

// ErrNoManifest is returned when a run directory has no manifest yet.
var ErrNoManifest = errors.New("manifest not found")

// ScopeMismatchError blocks resume when the stored target URL differs from
// the requested one. Operators can force past it; the override is audited.
type ScopeMismatchError struct {
	Stored    string
	Requested string
}

func (e *ScopeMismatchError) Error() string {
	return fmt.Sprintf("target URL mismatch: manifest has %q, requested %q", e.Stored, e.Requested)
}

// Store manages one run's artifacts, manifest, and audit log. Manifest
// writes are serialized; concurrent runs use separate Store instances over
// disjoint directories.
type Store struct {
	base      string
	workspace string
	runID     string
	audit     *AuditLogger
	mu        sync.Mutex
}

// Open creates (or reopens) the directory layout for one run:
// <workspaceRoot>/<workspace>/<runID>/{artifacts,logs,prompts}.
func Open(workspaceRoot, workspace, runID string) (*Store, error) {
	base := filepath.Join(workspaceRoot, workspace, runID)
	for _, dir := range []string{base, filepath.Join(base, "artifacts"), filepath.Join(base, "logs"), filepath.Join(base, "prompts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}

	audit, err := NewAuditLogger(filepath.Join(base, "logs"))
	if err != nil {
		return nil, err
	}

	return &Store{
		base:      base,
		workspace: workspace,
		runID:     runID,
		audit:     audit,
	}, nil
}

// Base returns the run's root directory.
func (s *Store) Base() string { return s.base }

// Audit returns the run's append-only audit logger.
func (s *Store) Audit() *AuditLogger { return s.audit }

// PromptsDir returns the directory for opaque worker I/O snapshots. The
// store never interprets its contents.
func (s *Store) PromptsDir() string { return filepath.Join(s.base, "prompts") }

// PhaseDir returns (and creates) the directory for one phase's artifacts,
// including its evidence subdirectory.
func (s *Store) PhaseDir(phase models.Phase) (string, error) {
	dir := filepath.Join(s.base, string(phase))
	if err := os.MkdirAll(filepath.Join(dir, "evidence"), 0o755); err != nil {
		return "", fmt.Errorf("create phase directory: %w", err)
	}
	return dir, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.base, "artifacts", "manifest.json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.base, "artifacts", "index.json")
}

// ReadManifest loads the manifest from disk. Returns ErrNoManifest when the
// run has never been persisted.
func (s *Store) ReadManifest() (*models.Manifest, error) {
	raw, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest persists the manifest atomically: write to a temp file in
// the same directory, fsync, then rename over the target. A crash mid-write
// leaves either the old manifest or the new one, never a torn file.
func (s *Store) WriteManifest(m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeManifestLocked(m)
}

func (s *Store) writeManifestLocked(m *models.Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := atomicWrite(s.manifestPath(), raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return s.writeIndexLocked(m)
}

// writeIndexLocked exports the content-hash catalog alongside the manifest.
func (s *Store) writeIndexLocked(m *models.Manifest) error {
	index := struct {
		Files []models.CatalogEntry `json:"files"`
	}{Files: sortCatalog(m)}
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := atomicWrite(s.indexPath(), raw); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Write validates one artifact against its declared schema, persists it
// under the phase directory, and records it in the manifest catalog. A
// validation failure rejects the write without touching the manifest; any
// prior valid artifact for the phase is left intact.
func (s *Store) Write(m *models.Manifest, phase models.Phase, name string, content []byte, schemaID string) (models.CatalogEntry, error) {
	if err := schema.Validate(schemaID, content); err != nil {
		return models.CatalogEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.PhaseDir(phase)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	relPath := filepath.Join(string(phase), name+".json")
	if err := atomicWrite(filepath.Join(dir, name+".json"), content); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("write artifact %s: %w", relPath, err)
	}

	sum := sha256.Sum256(content)
	entry := models.CatalogEntry{
		Path:     relPath,
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     int64(len(content)),
		Phase:    phase,
		Artifact: name,
		SchemaID: schemaID,
		Valid:    true,
	}
	m.UpsertCatalogEntry(entry)

	if err := s.writeManifestLocked(m); err != nil {
		return models.CatalogEntry{}, err
	}

	s.audit.Append(map[string]any{
		"event":    "artifact_written",
		"phase":    string(phase),
		"artifact": name,
		"sha256":   entry.SHA256,
		"size":     entry.Size,
	})
	return entry, nil
}

// CheckScope enforces the resume guard: the manifest's recorded target URL
// must equal the requested one. With force the mismatch is allowed and
// recorded as an audit event.
func (s *Store) CheckScope(m *models.Manifest, targetURL string, force bool) error {
	if m.URL == targetURL {
		return nil
	}
	if !force {
		return &ScopeMismatchError{Stored: m.URL, Requested: targetURL}
	}
	s.audit.Append(map[string]any{
		"event":         "scope_mismatch_override",
		"stored_url":    m.URL,
		"requested_url": targetURL,
	})
	return nil
}

// Resumable reports whether a phase's prior output can be reused for the
// given target URL: the phase must be complete in the manifest, every
// catalog entry for it must still validate against its declared schema,
// and the recorded URL must match (unless forced, which is audited).
func (s *Store) Resumable(m *models.Manifest, phase models.Phase, targetURL string, force bool) bool {
	if !m.PhaseComplete(phase) {
		return false
	}
	if err := s.CheckScope(m, targetURL, force); err != nil {
		return false
	}

	entries := m.CatalogForPhase(phase)
	if len(entries) == 0 {
		return false
	}
	for _, entry := range entries {
		content, err := os.ReadFile(filepath.Join(s.base, entry.Path))
		if err != nil {
			return false
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			return false
		}
		if err := schema.Validate(entry.SchemaID, content); err != nil {
			return false
		}
	}
	return true
}

// Index returns the full catalog in stable order: phase order as declared,
// then artifact name.
func (s *Store) Index(m *models.Manifest) []models.CatalogEntry {
	return sortCatalog(m)
}

func sortCatalog(m *models.Manifest) []models.CatalogEntry {
	rank := make(map[models.Phase]int, len(m.Phases))
	for i, p := range m.Phases {
		rank[p] = i
	}
	entries := make([]models.CatalogEntry, len(m.Catalog))
	copy(entries, m.Catalog)
	sort.SliceStable(entries, func(i, j int) bool {
		if rank[entries[i].Phase] != rank[entries[j].Phase] {
			return rank[entries[i].Phase] < rank[entries[j].Phase]
		}
		return entries[i].Artifact < entries[j].Artifact
	})
	return entries
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
