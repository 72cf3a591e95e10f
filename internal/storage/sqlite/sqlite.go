package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spreadtap/internal/state"
	"spreadtap/internal/storage"
)

// Store keeps one row per table in a SQLite database.
//
// SQLite has no timestamp type, so watermarks are stored as RFC3339Nano
// TEXT and parsed back leniently.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the pool's connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table %s: %w", storage.TableName, err)
	}
	return &Store{db: db}, nil
}

var createSQL = `CREATE TABLE IF NOT EXISTS ` + storage.TableName + ` (
	table_name TEXT PRIMARY KEY,
	modified_since TEXT,
	initial_sync_complete INTEGER NOT NULL DEFAULT 0
)`

var upsertSQL = `INSERT INTO ` + storage.TableName + ` (table_name, modified_since, initial_sync_complete)
VALUES (?, ?, ?)
ON CONFLICT (table_name) DO UPDATE SET
	modified_since = excluded.modified_since,
	initial_sync_complete = excluded.initial_sync_complete`

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load(ctx context.Context) (state.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, modified_since, initial_sync_complete FROM `+storage.TableName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load state: %w", err)
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var (
			r    storage.Row
			ms   sql.NullString
			done int64
		)
		if err := rows.Scan(&r.Table, &ms, &done); err != nil {
			return nil, fmt.Errorf("sqlite: scan state: %w", err)
		}
		if ms.Valid && ms.String != "" {
			t, err := parseSQLiteTime(ms.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse modified_since for %s: %w", r.Table, err)
			}
			r.ModifiedSince = &t
		}
		r.InitialSyncComplete = done != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.FromRows(out), nil
}

func (s *Store) Save(ctx context.Context, st state.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range storage.Rows(st) {
		var ms any
		if r.ModifiedSince != nil {
			ms = formatSQLiteTime(*r.ModifiedSince)
		}
		done := 0
		if r.InitialSyncComplete {
			done = 1
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, r.Table, ms, done); err != nil {
			return fmt.Errorf("sqlite: save state for %s: %w", r.Table, err)
		}
	}
	return tx.Commit()
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps read back from SQLite.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05Z07:00" and the fractional variant
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
