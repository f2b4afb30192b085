// Package store archives completed fit runs in SQLite so fitted
// hyperparameters survive process restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one archived fitting run.
type Run struct {
	ID              string             `json:"id"`
	Method          string             `json:"method"`
	Kernel          string             `json:"kernel"`
	FinalLoss       float64            `json:"final_loss"`
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	Iterations      int                `json:"iterations"`
	DurationSeconds float64            `json:"duration_seconds"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Store persists fit runs.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the archive at the given SQLite
// DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("store: sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fit_runs (
			id               TEXT PRIMARY KEY,
			method           TEXT NOT NULL,
			kernel           TEXT NOT NULL,
			final_loss       REAL NOT NULL,
			hyperparameters  TEXT NOT NULL,
			iterations       INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			created_at       TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// SaveRun archives a completed run. Saving an existing ID overwrites the
// previous record.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("store: run id is required")
	}

	hypers, err := json.Marshal(run.Hyperparameters)
	if err != nil {
		return fmt.Errorf("store: encode hyperparameters: %w", err)
	}

	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fit_runs (id, method, kernel, final_loss, hyperparameters, iterations, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			method = excluded.method,
			kernel = excluded.kernel,
			final_loss = excluded.final_loss,
			hyperparameters = excluded.hyperparameters,
			iterations = excluded.iterations,
			duration_seconds = excluded.duration_seconds,
			created_at = excluded.created_at
	`, run.ID, run.Method, run.Kernel, run.FinalLoss, string(hypers),
		run.Iterations, run.DurationSeconds, created.Format(time.RFC3339Nano))
	return err
}

// GetRun fetches one archived run by ID. The boolean reports whether the
// run exists.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, method, kernel, final_loss, hyperparameters, iterations, duration_seconds, created_at
		FROM fit_runs WHERE id = ?
	`, id)

	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the archived runs, most recent first, capped at limit
// (or all when limit is not positive).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, method, kernel, final_loss, hyperparameters, iterations, duration_seconds, created_at
		FROM fit_runs ORDER BY created_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRun(scan func(dest ...any) error) (Run, error) {
	var (
		run     Run
		hypers  string
		created string
	)
	if err := scan(&run.ID, &run.Method, &run.Kernel, &run.FinalLoss,
		&hypers, &run.Iterations, &run.DurationSeconds, &created); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(hypers), &run.Hyperparameters); err != nil {
		return Run{}, fmt.Errorf("store: decode hyperparameters for %s: %w", run.ID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("store: decode timestamp for %s: %w", run.ID, err)
	}
	run.CreatedAt = ts
	return run, nil
}
