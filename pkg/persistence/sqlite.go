// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labiium/skills/pkg/errors"
)

// SQLiteStore persists Execution Records in SQLite via the pure-Go
// modernc.org/sqlite driver, avoiding a cgo dependency for the broker's
// audit trail.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path
// and ensures the execution_records schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.PersistenceError, "persistence: open sqlite", err).
			WithContext("path", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps a caller-owned *sql.DB, for tests that share a
// single in-memory database across stores.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.InvalidArguments, "persistence: db is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_records (
			id           TEXT PRIMARY KEY,
			callable_id  TEXT NOT NULL,
			fqn          TEXT NOT NULL,
			kind         TEXT NOT NULL,
			arguments    TEXT,
			status       TEXT NOT NULL,
			result_json  TEXT,
			error_kind   TEXT,
			error_text   TEXT,
			consented_by TEXT,
			started_at   TIMESTAMP NOT NULL,
			finished_at  TIMESTAMP NOT NULL,
			duration_ms  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exec_records_fqn ON execution_records(fqn);
		CREATE INDEX IF NOT EXISTS idx_exec_records_callable ON execution_records(callable_id);
		CREATE INDEX IF NOT EXISTS idx_exec_records_status ON execution_records(status);
		CREATE INDEX IF NOT EXISTS idx_exec_records_started ON execution_records(started_at);
	`)
	if err != nil {
		return errors.New(errors.PersistenceError, "persistence: ensure schema", err)
	}
	return nil
}

// Put inserts one Execution Record. If a record with the same id already
// exists, only its status, result_json, error_kind, error_text,
// finished_at and duration_ms columns are overwritten.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (
			id, callable_id, fqn, kind, arguments, status, result_json,
			error_kind, error_text, consented_by, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, result_json=excluded.result_json,
			error_kind=excluded.error_kind, error_text=excluded.error_text,
			finished_at=excluded.finished_at, duration_ms=excluded.duration_ms
	`,
		rec.ID, rec.CallableID, rec.FQN, rec.Kind, rec.Arguments, string(rec.Status),
		rec.ResultJSON, rec.ErrorKind, rec.ErrorText, rec.ConsentedBy,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.DurationMs,
	)
	if err != nil {
		return errors.New(errors.PersistenceError, "persistence: put record", err).
			WithContext("id", rec.ID)
	}
	return nil
}

// Get looks up one record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, callable_id, fqn, kind, arguments, status, result_json,
			error_kind, error_text, consented_by, started_at, finished_at, duration_ms
		FROM execution_records WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, errors.New(errors.NotFound, "persistence: record not found", nil).
				WithContext("id", id)
		}
		return Record{}, errors.New(errors.PersistenceError, "persistence: get record", err)
	}
	return rec, nil
}

// List returns records matching filter, most recent first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, callable_id, fqn, kind, arguments, status, result_json,
			error_kind, error_text, consented_by, started_at, finished_at, duration_ms
		FROM execution_records
	`
	var args []any
	where := ""
	add := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.CallableID != "" {
		add("callable_id = ?", filter.CallableID)
	}
	if filter.FQN != "" {
		add("fqn = ?", filter.FQN)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		add("started_at >= ?", filter.Since.UTC())
	}
	query += where + " ORDER BY started_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.PersistenceError, "persistence: list records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.New(errors.PersistenceError, "persistence: scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.PersistenceError, "persistence: iterate records", err)
	}
	return out, nil
}

// Prune deletes records older than olderThan, returning the count removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_records WHERE started_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, errors.New(errors.PersistenceError, "persistence: prune records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.New(errors.PersistenceError, "persistence: prune rows affected", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		status   string
		started  time.Time
		finished time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.CallableID, &rec.FQN, &rec.Kind, &rec.Arguments, &status, &rec.ResultJSON,
		&rec.ErrorKind, &rec.ErrorText, &rec.ConsentedBy, &started, &finished, &rec.DurationMs,
	); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.StartedAt = started
	rec.FinishedAt = finished
	return rec, nil
}
