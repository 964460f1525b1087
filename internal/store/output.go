package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pentra-dev/pentra/internal/schema"
	"github.com/pentra-dev/pentra/pkg/models"
)

// PersistPhaseOutput writes a validated phase output into the store: the
// full output document, its coverage record, and every artifact the worker
// declared, each schema-gated through Write. A human-readable summary.md is
// written alongside but stays out of the catalog. The phase is NOT marked
// complete here; that is the workflow's transition to make after this
// returns successfully.
func (s *Store) PersistPhaseOutput(m *models.Manifest, output *models.PhaseOutput) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal phase output: %w", err)
	}
	if _, err := s.Write(m, output.Phase, "output", raw, schema.PhaseOutputV1); err != nil {
		return err
	}

	coverage, err := json.Marshal(struct {
		Phase     string   `json:"phase"`
		Attempted []string `json:"attempted"`
		Skipped   []string `json:"skipped,omitempty"`
	}{
		Phase:     string(output.Phase),
		Attempted: output.Coverage.Attempted,
		Skipped:   output.Coverage.Skipped,
	})
	if err != nil {
		return fmt.Errorf("marshal coverage: %w", err)
	}
	if _, err := s.Write(m, output.Phase, "coverage", coverage, schema.CoverageV1); err != nil {
		return err
	}

	for _, artifact := range output.Artifacts {
		// The output document already embeds these; persisting them as
		// standalone files is what lets later phases consume them directly.
		if artifact.Name == "output" || artifact.Name == "coverage" {
			continue
		}
		if _, err := s.Write(m, output.Phase, artifact.Name, artifact.Content, artifact.SchemaID); err != nil {
			return err
		}
	}

	return s.writeSummary(output)
}

func (s *Store) writeSummary(output *models.PhaseOutput) error {
	dir, err := s.PhaseDir(output.Phase)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("# %s\n\n%s\n", output.Phase, output.Summary)
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(body), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
