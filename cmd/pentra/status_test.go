package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pentra-dev/pentra/pkg/models"
)

func TestReadManifest(t *testing.T) {
	runDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(runDir, "artifacts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := models.NewManifest("acme", "run-1", "https://staging.example.com", "/repos/shop", nil)
	m.MarkPhaseComplete(models.PhaseIntake)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "artifacts", "manifest.json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readManifest(runDir)
	if got == nil {
		t.Fatal("expected manifest, got nil")
	}
	if got.RunID != "run-1" {
		t.Errorf("run id = %q, want run-1", got.RunID)
	}
	if !got.PhaseComplete(models.PhaseIntake) {
		t.Error("expected intake marked complete")
	}
}

func TestReadManifestMissing(t *testing.T) {
	if got := readManifest(t.TempDir()); got != nil {
		t.Errorf("expected nil for missing manifest, got %+v", got)
	}
}

func TestReadManifestCorrupt(t *testing.T) {
	runDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(runDir, "artifacts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "artifacts", "manifest.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readManifest(runDir); got != nil {
		t.Errorf("expected nil for corrupt manifest, got %+v", got)
	}
}
