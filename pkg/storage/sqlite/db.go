// Package sqlite implements the samplecove stores on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/samplecove/samplecove/pkg/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (and migrates) the database at path. Use ":memory:" for an
// in-memory database in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps the in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// fmtTime renders a timestamp the way the schema defaults do.
// The zero time renders as NULL.
func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// parseTime reads a nullable timestamp column.
func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s.String, err)
	}
	return t, nil
}

// timeField scans a timestamp column directly into a time.Time, mapping
// NULL to the zero time.
type timeField struct{ t *time.Time }

func (f *timeField) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f.t = time.Time{}
		return nil
	case string:
		parsed, err := parseTime(sql.NullString{String: v, Valid: true})
		if err != nil {
			return err
		}
		*f.t = parsed
		return nil
	case time.Time:
		*f.t = v
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

// nullID reads a nullable integer foreign key, mapping NULL to zero.
func nullID(n sql.NullInt64) int64 {
	if !n.Valid {
		return 0
	}
	return n.Int64
}

// idArg maps a zero id to NULL for nullable foreign keys.
func idArg(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
