package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/models"
)

// CreateRun inserts a new run row. An existing id yields apperr.ErrAlreadyExists
// and leaves the stored run untouched.
func (db *DB) CreateRun(r models.Run) error {
	res, err := db.conn.Exec(`
		INSERT INTO runs (id, notebook_name, status, error, review, generate_ui, review_ui, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.NotebookName, string(r.Status), r.Error,
		r.Options.Review, r.Options.GenerateUI, r.Options.ReviewUI, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: create run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: create run %s: %w", r.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (db *DB) FinishRun(id string, status models.RunStatus, errText string) error {
	res, err := db.conn.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(status), errText, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: finish run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AddArtifact records an artifact, replacing an earlier one of the same kind.
func (db *DB) AddArtifact(a models.Artifact) error {
	_, err := db.conn.Exec(`
		INSERT INTO artifacts (run_id, kind, filename, checksum, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind) DO UPDATE SET
			filename   = excluded.filename,
			checksum   = excluded.checksum,
			size       = excluded.size,
			created_at = excluded.created_at
	`, a.RunID, string(a.Kind), a.Filename, a.Checksum, a.Size, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: add artifact: %w", err)
	}
	return nil
}

// GetRun returns a run with its artifacts.
func (db *DB) GetRun(id string) (*models.Run, error) {
	row := db.conn.QueryRow(`
		SELECT id, notebook_name, status, error, review, generate_ui, review_ui, created_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get run: %w", err)
	}
	arts, err := db.artifacts(id)
	if err != nil {
		return nil, err
	}
	r.Artifacts = arts
	return r, nil
}

// ListRuns returns runs newest first, without artifacts, and the total count.
func (db *DB) ListRuns(limit, offset int) ([]models.Run, int, error) {
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history: count runs: %w", err)
	}
	rows, err := db.conn.Query(`
		SELECT id, notebook_name, status, error, review, generate_ui, review_ui, created_at, finished_at
		FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	out := []models.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// GetArtifact returns the artifact of the given kind for a run.
func (db *DB) GetArtifact(runID string, kind models.ArtifactKind) (*models.Artifact, error) {
	a := models.Artifact{RunID: runID, Kind: kind}
	err := db.conn.QueryRow(`
		SELECT filename, checksum, size, created_at FROM artifacts WHERE run_id = ? AND kind = ?
	`, runID, string(kind)).Scan(&a.Filename, &a.Checksum, &a.Size, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: artifact %s/%s: %w", runID, kind, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get artifact: %w", err)
	}
	return &a, nil
}

func (db *DB) artifacts(runID string) ([]models.Artifact, error) {
	rows, err := db.conn.Query(`
		SELECT kind, filename, checksum, size, created_at FROM artifacts
		WHERE run_id = ? ORDER BY created_at, rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: artifacts: %w", err)
	}
	defer rows.Close()

	out := []models.Artifact{}
	for rows.Next() {
		a := models.Artifact{RunID: runID}
		var kind string
		if err := rows.Scan(&kind, &a.Filename, &a.Checksum, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = models.ArtifactKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		r        models.Run
		status   string
		finished sql.NullTime
	)
	err := s.Scan(&r.ID, &r.NotebookName, &status, &r.Error,
		&r.Options.Review, &r.Options.GenerateUI, &r.Options.ReviewUI,
		&r.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
