// Package history records sync runs in a SQLite database so the status
// server can report on them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Run kinds.
const (
	KindExtract = "extract"
	KindSync    = "sync"
	KindRun     = "run"
	KindCleanup = "cleanup"
	KindDedupe  = "dedupe"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	weeks       INTEGER NOT NULL DEFAULT 0,
	lessons     INTEGER NOT NULL DEFAULT 0,
	created     INTEGER NOT NULL DEFAULT 0,
	duplicates  INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_runs_finished ON sync_runs (finished_at);
`

// Run is one recorded invocation.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Weeks      int       `json:"weeks"`
	Lessons    int       `json:"lessons"`
	Created    int       `json:"created"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Store is the run history.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database at dsn. Use
// "file::memory:" for a throwaway database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// A single connection keeps in-memory databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r, assigning an id when it has none.
func (s *Store) Record(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, kind, started_at, finished_at, weeks, lessons, created, duplicates, failed, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Kind, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		r.Weeks, r.Lessons, r.Created, r.Duplicates, r.Failed, r.Status, r.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const selectRuns = `
	SELECT id, kind, started_at, finished_at, weeks, lessons, created, duplicates, failed, status, error
	FROM sync_runs`

// Latest returns the most recently finished run of one of kinds, or of any
// kind when none are given.
func (s *Store) Latest(ctx context.Context, kinds ...string) (*Run, error) {
	query := selectRuns
	args := make([]any, 0, len(kinds))
	if len(kinds) > 0 {
		query += ` WHERE kind IN (?` + strings.Repeat(", ?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	query += ` ORDER BY finished_at DESC LIMIT 1`

	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Since returns runs finished at or after t, oldest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` WHERE finished_at >= ? ORDER BY finished_at ASC`, t.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var started, finished int64
	if err := row.Scan(&r.ID, &r.Kind, &started, &finished,
		&r.Weeks, &r.Lessons, &r.Created, &r.Duplicates, &r.Failed, &r.Status, &r.Error); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	return &r, nil
}

// StatusOf classifies a run outcome.
func StatusOf(err error, failed int) string {
	switch {
	case err != nil:
		return StatusFailed
	case failed > 0:
		return StatusPartial
	default:
		return StatusOK
	}
}
