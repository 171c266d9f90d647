package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/runbox/internal/storage"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, e *storage.Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var score sql.NullFloat64
	if e.Score != nil {
		score = sql.NullFloat64{Float64: *e.Score, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, language, mode, rubric, exit_status, http_status, duration_ms, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Language, e.Mode, e.Rubric, e.ExitStatus, e.HTTPStatus, e.DurationMs, score,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

const selectExecution = `SELECT id, language, mode, rubric, exit_status, http_status, duration_ms, score, created_at FROM executions`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*storage.Execution, error) {
	// Try exact match first, then prefix match
	e, err := scanExecution(s.db.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying execution: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectExecution+` WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, e)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w %q", storage.ErrAmbiguous, id)
	}
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, opts storage.ExecutionListOptions) ([]storage.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectExecution + ` WHERE 1 = 1`
	var args []any

	if opts.ExitStatus != "" {
		query += ` AND exit_status = ?`
		args = append(args, opts.ExitStatus)
	}
	if opts.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, opts.Mode)
	}

	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var execs []storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

func (s *SQLiteStore) Summary(ctx context.Context) ([]storage.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exit_status, COUNT(*) FROM executions
		GROUP BY exit_status ORDER BY exit_status`)
	if err != nil {
		return nil, fmt.Errorf("summarizing executions: %w", err)
	}
	defer rows.Close()

	var out []storage.StatusCount
	for rows.Next() {
		var c storage.StatusCount
		if err := rows.Scan(&c.ExitStatus, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`,
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning executions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*storage.Execution, error) {
	var e storage.Execution
	var score sql.NullFloat64
	var createdAt string
	err := s.Scan(&e.ID, &e.Language, &e.Mode, &e.Rubric, &e.ExitStatus,
		&e.HTTPStatus, &e.DurationMs, &score, &createdAt)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		e.Score = &score.Float64
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &e, nil
}
