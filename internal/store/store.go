// Package store persists equivalence-check runs to SQLite so regressions
// can be compared across revisions.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RunStore is a SQLite-backed record of check runs and their per-model
// results.
type RunStore struct {
	db   *sql.DB
	path string
}

// RunRecord is one harness run.
type RunRecord struct {
	ID       string
	Started  time.Time
	Seed     uint64
	Models   int
	Failures int
	Duration time.Duration
}

// ResultRecord is one model's outcome within a run.
type ResultRecord struct {
	RunID       string
	Model       string
	History     int
	SeqLoss     float64
	VecLoss     float64
	MaxGradDiff float64
	Passed      bool
	Detail      string
	Duration    time.Duration
}

// Open initializes the database at path, creating directories and schema as
// needed.
func Open(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &RunStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS check_runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	models      INTEGER NOT NULL,
	failures    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS check_results (
	run_id        TEXT NOT NULL REFERENCES check_runs(id),
	model         TEXT NOT NULL,
	history       INTEGER NOT NULL,
	seq_loss      REAL NOT NULL,
	vec_loss      REAL NOT NULL,
	max_grad_diff REAL NOT NULL,
	passed        INTEGER NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL,
	PRIMARY KEY (run_id, model)
);
CREATE INDEX IF NOT EXISTS idx_results_model ON check_results(model, passed);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes a run and its results in one transaction.
func (s *RunStore) SaveRun(run RunRecord, results []ResultRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO check_runs (id, started_at, seed, models, failures, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Started.UnixMilli(), int64(run.Seed), run.Models, run.Failures, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	for _, r := range results {
		passed := 0
		if r.Passed {
			passed = 1
		}
		_, err = tx.Exec(
			`INSERT INTO check_results (run_id, model, history, seq_loss, vec_loss, max_grad_diff, passed, detail, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.Model, r.History, r.SeqLoss, r.VecLoss, r.MaxGradDiff, passed, r.Detail, r.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.Model, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, seed, models, failures, duration_ms FROM check_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, seed, durMs int64
		if err := rows.Scan(&r.ID, &started, &seed, &r.Models, &r.Failures, &durMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Started = time.UnixMilli(started)
		r.Seed = uint64(seed)
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultsFor returns the per-model results of one run.
func (s *RunStore) ResultsFor(runID string) ([]ResultRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, model, history, seq_loss, vec_loss, max_grad_diff, passed, detail, duration_ms
		 FROM check_results WHERE run_id = ? ORDER BY model`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var r ResultRecord
		var passed int
		var durMs int64
		if err := rows.Scan(&r.RunID, &r.Model, &r.History, &r.SeqLoss, &r.VecLoss, &r.MaxGradDiff, &passed, &r.Detail, &durMs); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Passed = passed != 0
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *RunStore) Close() error { return s.db.Close() }
