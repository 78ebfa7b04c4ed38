package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"churnintel/batch"
)

// Store keeps the history of batch runs. Single predictions are never
// persisted.
type Store struct {
	database *sql.DB
}

// InitDB opens the SQLite database at path and creates the schema.
func InitDB(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY.
	database.SetMaxOpenConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS batch_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		total_rows INTEGER DEFAULT 0,
		processed INTEGER DEFAULT 0,
		predicted INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		low_risk INTEGER DEFAULT 0,
		high_risk INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		UNIQUE(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at);
	`
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.database == nil {
		return nil
	}
	return s.database.Close()
}

// SaveBatchRun records the summary of a finished run. Saving the same run
// twice replaces the earlier row.
func (s *Store) SaveBatchRun(summary batch.Summary) error {
	if s == nil || s.database == nil {
		return errors.New("database not initialized")
	}
	if summary.RunID == "" {
		return errors.New("run id required")
	}
	_, err := s.database.Exec(`
		INSERT OR REPLACE INTO batch_runs (
			run_id, name, total_rows, processed, predicted, failed,
			low_risk, high_risk, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID,
		summary.Name,
		summary.TotalRows,
		summary.Processed,
		summary.Predicted,
		summary.Failed,
		summary.LowRisk,
		summary.HighRisk,
		summary.StartedAt.UTC(),
		summary.FinishedAt.UTC(),
	)
	return err
}

// ListBatchRuns returns the most recent runs first.
func (s *Store) ListBatchRuns(limit int) ([]batch.Summary, error) {
	if s == nil || s.database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.database.Query(`
		SELECT run_id, name, total_rows, processed, predicted, failed,
			   low_risk, high_risk, started_at, finished_at
		FROM batch_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]batch.Summary, 0)
	for rows.Next() {
		var r batch.Summary
		if err := rows.Scan(&r.RunID, &r.Name, &r.TotalRows, &r.Processed, &r.Predicted, &r.Failed,
			&r.LowRisk, &r.HighRisk, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
