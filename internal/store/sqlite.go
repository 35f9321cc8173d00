// Package store persists locations and weather snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateCoordinates is returned by InsertLocation when a location with
// the same (lat, lon) already exists.
var ErrDuplicateCoordinates = errors.New("location with these coordinates already exists")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs the accessors against a connection or a transaction.
type Queries struct {
	db DBTX
}

// Store owns the connection pool. Its embedded Queries run outside any transaction.
type Store struct {
	*Queries
	conn *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	memory := path == MemoryPath
	if !memory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: creating data directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// Each :memory: connection is its own database.
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	s := &Store{Queries: &Queries{db: conn}, conn: conn}
	if err := s.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

func dsn(path string, memory bool) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	if !memory {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_txlock", "immediate")
	params.Set("_time_format", "sqlite")
	return path + "?" + params.Encode()
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back when fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Queries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS locations (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			country      TEXT NOT NULL DEFAULT '',
			lat          REAL NOT NULL,
			lon          REAL NOT NULL,
			display_name TEXT,
			is_favorite  INTEGER NOT NULL DEFAULT 0,
			last_synced  DATETIME
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_coordinates ON locations(lat, lon);
	`)
	if err != nil {
		return fmt.Errorf("creating locations table: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS weather_snapshots (
			id          TEXT PRIMARY KEY,
			location_id TEXT NOT NULL REFERENCES locations(id),
			temp        REAL NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon        TEXT NOT NULL DEFAULT '',
			humidity    INTEGER NOT NULL,
			wind_speed  REAL NOT NULL,
			feels_like  REAL NOT NULL,
			timestamp   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_location_time ON weather_snapshots(location_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("creating weather_snapshots table: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
}
