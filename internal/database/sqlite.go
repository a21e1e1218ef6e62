package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the Catalog interface using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens the catalog at path and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: opens a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the location of the catalog database.
func (s *SQLiteCatalog) Path() string {
	return s.path
}

// BeginRun stores a new run in the running state.
func (s *SQLiteCatalog) BeginRun(run *ckpt.Run) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO runs (id, operation, checkpoint, previous, source_root, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Operation, run.Checkpoint, run.Previous, run.SourceRoot,
		run.StartedAt.UTC(), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun updates the status, counters and finish time of a run.
func (s *SQLiteCatalog) FinishRun(run *ckpt.Run) error {
	res, err := s.db.ExecContext(context.Background(), `
		UPDATE runs
		SET checkpoint = ?, previous = ?, source_root = ?, finished_at = ?, status = ?,
		    files = ?, changed = ?, unchanged = ?, removed = ?, bytes_copied = ?, error = ?
		WHERE id = ?`,
		run.Checkpoint, run.Previous, run.SourceRoot, nullTime(run.FinishedAt), string(run.Status),
		run.Files, run.Changed, run.Unchanged, run.Removed, run.BytesCopied, run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *SQLiteCatalog) ListRuns(limit int) ([]*ckpt.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, operation, checkpoint, previous, source_root, started_at, finished_at, status,
		       files, changed, unchanged, removed, bytes_copied, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*ckpt.Run
	for rows.Next() {
		var r ckpt.Run
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Operation, &r.Checkpoint, &r.Previous, &r.SourceRoot,
			&r.StartedAt, &finished, &status,
			&r.Files, &r.Changed, &r.Unchanged, &r.Removed, &r.BytesCopied, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = ckpt.RunStatus(status)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// FindRun returns a run by id, or nil if it does not exist.
func (s *SQLiteCatalog) FindRun(id string) (*ckpt.Run, error) {
	var r ckpt.Run
	var status string
	var finished sql.NullTime
	err := s.db.QueryRowContext(context.Background(), `
		SELECT id, operation, checkpoint, previous, source_root, started_at, finished_at, status,
		       files, changed, unchanged, removed, bytes_copied, error
		FROM runs WHERE id = ?`, id).Scan(
		&r.ID, &r.Operation, &r.Checkpoint, &r.Previous, &r.SourceRoot,
		&r.StartedAt, &finished, &status,
		&r.Files, &r.Changed, &r.Unchanged, &r.Removed, &r.BytesCopied, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding run: %w", err)
	}
	r.Status = ckpt.RunStatus(status)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// Close releases the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Compile-time check that SQLiteCatalog implements ckpt.Catalog interface
var _ ckpt.Catalog = (*SQLiteCatalog)(nil)
