package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pentra-dev/pentra/pkg/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "pentra.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func testRunRecord(id, workspace string) *Run {
	return &Run{
		ID:           id,
		Workspace:    workspace,
		URL:          "https://staging.example.com",
		RepoPath:     "/srv/repos/acme",
		RunDir:       "/srv/runs/" + workspace + "/" + id,
		Status:       models.RunRunning,
		CurrentPhase: models.PhaseIntake,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	db := setupTestDB(t)
	run := testRunRecord("run-1", "acme")
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetRun() = nil, want run")
	}
	if got.Workspace != "acme" || got.URL != run.URL || got.Status != models.RunRunning {
		t.Errorf("GetRun() = %+v, want %+v", got, run)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not persisted")
	}
}

func TestGetRunMissing(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRun() = %+v, want nil", got)
	}
}

func TestDuplicateRunIDRejected(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(testRunRecord("run-1", "acme")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := db.CreateRun(testRunRecord("run-1", "acme")); err == nil {
		t.Error("duplicate run id accepted")
	}
}

func TestUpdateRunStatus(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(testRunRecord("run-1", "acme")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := db.UpdateRunStatus("run-1", models.RunWaitingConfig, models.PhaseRecon); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}
	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != models.RunWaitingConfig {
		t.Errorf("status = %s, want waiting_config", got.Status)
	}
	if got.CurrentPhase != models.PhaseRecon {
		t.Errorf("current phase = %s, want recon", got.CurrentPhase)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	old := testRunRecord("run-old", "acme")
	old.CreatedAt = time.Now().Add(-time.Hour)
	if err := db.CreateRun(old); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := db.CreateRun(testRunRecord("run-new", "acme")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := db.CreateRun(testRunRecord("run-other", "globex")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	runs, err := db.ListRuns("acme")
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() = %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-old" {
		t.Errorf("order = [%s, %s], want newest first", runs[0].ID, runs[1].ID)
	}

	all, err := db.ListRuns("")
	if err != nil {
		t.Fatalf("ListRuns(all) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(all) = %d runs, want 3", len(all))
	}
}

func TestLatestRun(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.LatestRun("acme")
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if got != nil {
		t.Errorf("LatestRun() = %+v, want nil for empty workspace", got)
	}

	old := testRunRecord("run-old", "acme")
	old.CreatedAt = time.Now().Add(-time.Hour)
	if err := db.CreateRun(old); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := db.CreateRun(testRunRecord("run-new", "acme")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err = db.LatestRun("acme")
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if got == nil || got.ID != "run-new" {
		t.Errorf("LatestRun() = %+v, want run-new", got)
	}
}

func TestLatestResumableSkipsTerminal(t *testing.T) {
	db := setupTestDB(t)

	finished := testRunRecord("run-done", "acme")
	finished.Status = models.RunCompleted
	if err := db.CreateRun(finished); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	waiting := testRunRecord("run-waiting", "acme")
	waiting.Status = models.RunWaitingConfig
	waiting.CreatedAt = time.Now().Add(-time.Hour)
	if err := db.CreateRun(waiting); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := db.LatestResumable("acme")
	if err != nil {
		t.Fatalf("LatestResumable() error = %v", err)
	}
	if got == nil || got.ID != "run-waiting" {
		t.Errorf("LatestResumable() = %+v, want run-waiting", got)
	}
}

func TestLatestResumableIncludesFailed(t *testing.T) {
	db := setupTestDB(t)

	failed := testRunRecord("run-failed", "acme")
	failed.Status = models.RunFailed
	if err := db.CreateRun(failed); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	canceled := testRunRecord("run-canceled", "acme")
	canceled.Status = models.RunCanceled
	if err := db.CreateRun(canceled); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := db.LatestResumable("acme")
	if err != nil {
		t.Fatalf("LatestResumable() error = %v", err)
	}
	if got == nil || got.ID != "run-failed" {
		t.Errorf("LatestResumable() = %+v, want run-failed", got)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)

	oldDone := testRunRecord("run-old-done", "acme")
	oldDone.Status = models.RunCompleted
	oldDone.CreatedAt = time.Now().Add(-60 * 24 * time.Hour)
	if err := db.CreateRun(oldDone); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	oldActive := testRunRecord("run-old-active", "acme")
	oldActive.CreatedAt = time.Now().Add(-60 * 24 * time.Hour)
	if err := db.CreateRun(oldActive); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := db.CreateRun(testRunRecord("run-fresh", "acme")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	count, err := db.PurgeOldRuns(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns() error = %v", err)
	}
	if count != 1 {
		t.Errorf("purged %d runs, want 1 (terminal old run only)", count)
	}
	if got, _ := db.GetRun("run-old-active"); got == nil {
		t.Error("non-terminal run was purged")
	}
	if got, _ := db.GetRun("run-old-done"); got != nil {
		t.Error("old terminal run survived purge")
	}
}
