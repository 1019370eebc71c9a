// ABOUTME: SQLite-backed archive of finished workflow runs.
// ABOUTME: The engine never persists anything; the run service hands results here after a run settles.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/loom/weft"
)

// RunSummary is a row from the runs table for list queries.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Workflow   string `json:"workflow"`
	Outcome    string `json:"outcome"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// Store is a SQLite-backed archive of finished runs. Results are stored as
// JSON alongside indexed metadata columns for list queries.
type Store struct {
	db *sql.DB
}

// Open opens or creates an archive database at the given path and ensures
// the schema is up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			outcome TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			result TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult upserts a finished run. Implements weft.Archiver.
func (s *Store) SaveResult(ctx context.Context, result *weft.RunResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow, outcome, started_at, finished_at, result)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			workflow = excluded.workflow,
			outcome = excluded.outcome,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			result = excluded.result`,
		result.RunID,
		result.Workflow,
		string(result.Outcome),
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// Get returns the archived result for a run ID, or sql.ErrNoRows if the run
// was never archived.
func (s *Store) Get(ctx context.Context, runID string) (*weft.RunResult, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM runs WHERE run_id = ?", runID).Scan(&encoded)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	var result weft.RunResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}

// List returns archived run summaries, newest first, capped at limit when
// limit is positive.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	query := "SELECT run_id, workflow, outcome, started_at, finished_at FROM runs ORDER BY finished_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Workflow, &r.Outcome, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes archived runs that finished before the cutoff and returns
// how many rows were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE finished_at < ?", before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// Compile-time interface assertion.
var _ weft.Archiver = (*Store)(nil)
