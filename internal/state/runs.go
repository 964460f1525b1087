package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pentra-dev/pentra/pkg/models"
)

// Run is one registry row. It mirrors the manifest's identity and current
// status; everything else lives in the manifest.
type Run struct {
	ID           string           `json:"id"`
	Workspace    string           `json:"workspace"`
	URL          string           `json:"url"`
	RepoPath     string           `json:"repo_path"`
	RunDir       string           `json:"run_dir"`
	Status       models.RunStatus `json:"status"`
	CurrentPhase models.Phase     `json:"current_phase"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CreateRun registers a new run.
func (db *DB) CreateRun(r *Run) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := db.Exec(`
		INSERT INTO runs (id, workspace, url, repo_path, run_dir, status, current_phase, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Workspace, r.URL, r.RepoPath, r.RunDir, string(r.Status), string(r.CurrentPhase),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil when no such run exists.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, workspace, url, repo_path, run_dir, status, current_phase, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// UpdateRunStatus records the run's current status and phase.
func (db *DB) UpdateRunStatus(id string, status models.RunStatus, currentPhase models.Phase) error {
	_, err := db.Exec(`
		UPDATE runs SET status = ?, current_phase = ?, updated_at = ? WHERE id = ?
	`, string(status), string(currentPhase), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// ListRuns returns runs for a workspace, newest first. An empty workspace
// lists every run.
func (db *DB) ListRuns(workspace string) ([]*Run, error) {
	query := `
		SELECT id, workspace, url, repo_path, run_dir, status, current_phase, created_at, updated_at
		FROM runs`
	args := []any{}
	if workspace != "" {
		query += " WHERE workspace = ?"
		args = append(args, workspace)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently created run for a workspace, or nil
// when the workspace has none.
func (db *DB) LatestRun(workspace string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, workspace, url, repo_path, run_dir, status, current_phase, created_at, updated_at
		FROM runs WHERE workspace = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, workspace)
	return scanRun(row)
}

// LatestResumable returns the newest run for a workspace that resume can
// act on, or nil when there is none. Failed runs are included: they
// re-enter the pipeline at their first incomplete phase. Completed and
// canceled runs are excluded for good.
func (db *DB) LatestResumable(workspace string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, workspace, url, repo_path, run_dir, status, current_phase, created_at, updated_at
		FROM runs WHERE workspace = ? AND status NOT IN ('completed', 'canceled')
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, workspace)
	return scanRun(row)
}

// PurgeOldRuns deletes terminal runs older than the given duration and
// returns how many were removed. Manifests on disk are untouched.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.Exec(`
		DELETE FROM runs
		WHERE created_at < ? AND status IN ('completed', 'canceled', 'failed')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (*Run, error) {
	r, err := scanRunFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanRunRows(rows *sql.Rows) (*Run, error) {
	return scanRunFrom(rows)
}

func scanRunFrom(s rowScanner) (*Run, error) {
	var r Run
	var status, currentPhase, createdAt, updatedAt string
	err := s.Scan(&r.ID, &r.Workspace, &r.URL, &r.RepoPath, &r.RunDir,
		&status, &currentPhase, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	r.CurrentPhase = models.Phase(currentPhase)
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}
