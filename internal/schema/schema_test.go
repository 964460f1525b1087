package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pentra-dev/pentra/pkg/models"
)

func validOutput(t *testing.T) []byte {
	t.Helper()
	out := models.PhaseOutput{
		Phase:       models.PhaseRecon,
		GeneratedAt: time.Now().UTC(),
		Summary:     "mapped attack surface",
		Coverage:    models.Coverage{Attempted: []string{"attack_surface_mapper"}},
		Artifacts: []models.Artifact{
			{Name: "coverage", SchemaID: CoverageV1, Content: json.RawMessage(`{"phase":"recon","attempted":[]}`)},
		},
		Evidence: []models.EvidenceRef{{ID: "recon-e1", Path: "recon/evidence/hosts.txt"}},
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestValidatePhaseOutput(t *testing.T) {
	if err := Validate(PhaseOutputV1, validOutput(t)); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}
}

func TestValidatePhaseOutputRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed JSON", `{"phase": `},
		{"unknown phase", `{"phase":"exploit","summary":"x","coverage":{"attempted":[]},"artifacts":[]}`},
		{"empty summary", `{"phase":"recon","summary":"","coverage":{"attempted":[]},"artifacts":[]}`},
		{"artifact without schema", `{"phase":"recon","summary":"x","coverage":{"attempted":[]},"artifacts":[{"name":"out","schema_id":"","content":{}}]}`},
		{"unknown field", `{"phase":"recon","summary":"x","coverage":{"attempted":[]},"artifacts":[],"extra":true}`},
		{"evidence missing path", `{"phase":"recon","summary":"x","coverage":{"attempted":[]},"artifacts":[],"evidence":[{"id":"e1","path":""}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(PhaseOutputV1, []byte(tt.payload))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateCoverage(t *testing.T) {
	if err := Validate(CoverageV1, []byte(`{"phase":"vuln","attempted":["config_review"],"skipped":["deps"]}`)); err != nil {
		t.Errorf("valid coverage rejected: %v", err)
	}
	if err := Validate(CoverageV1, []byte(`{"phase":"vuln"}`)); err == nil {
		t.Error("coverage without attempted list should fail")
	}
}

func TestValidateFindings(t *testing.T) {
	good := `[{"id":"f1","title":"weak TLS config","severity":"medium"}]`
	if err := Validate(FindingsV1, []byte(good)); err != nil {
		t.Errorf("valid findings rejected: %v", err)
	}

	bad := `[{"id":"f1","title":"weak TLS config","severity":"catastrophic"}]`
	if err := Validate(FindingsV1, []byte(bad)); err == nil {
		t.Error("unknown severity should fail")
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	err := Validate("pentra.nonsense@v9", []byte(`{}`))
	if err == nil {
		t.Fatal("unknown schema should fail validation")
	}
}

func TestKnown(t *testing.T) {
	for _, id := range []string{PhaseOutputV1, CoverageV1, SummaryV1, FindingsV1, ManifestV1} {
		if !Known(id) {
			t.Errorf("Known(%q) = false", id)
		}
	}
	if Known("bogus") {
		t.Error("Known(bogus) = true")
	}
}

func TestValidateManifest(t *testing.T) {
	m := models.NewManifest("default", "run-1", "https://staging.example.com", "/repos/app", nil)
	m.MarkPhaseComplete(models.PhaseIntake)
	raw, _ := json.Marshal(m)

	if err := Validate(ManifestV1, raw); err != nil {
		t.Errorf("valid manifest rejected: %v", err)
	}

	if err := Validate(ManifestV1, []byte(`{"workspace":"","run_id":"","phases":["intake"],"completed_phases":[],"status":"running","created_at":"2026-01-01T00:00:00Z","url":"","repo_path":"","catalog":[]}`)); err == nil {
		t.Error("manifest without workspace/run_id should fail")
	}
}
