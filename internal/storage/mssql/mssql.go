package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"spreadtap/internal/state"
	"spreadtap/internal/storage"
)

// Store keeps sync state in Microsoft SQL Server.
//
// SQL Server has no INSERT ... ON CONFLICT, so Save upserts each row with a
// MERGE under HOLDLOCK inside one transaction.
type Store struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver, validates connectivity and
// ensures the state table exists.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	s := &Store{db: &sqlDB{db: raw}}
	if err := s.ensureTable(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return s, nil
}

var createSQL = `IF OBJECT_ID(N'dbo.` + storage.TableName + `', N'U') IS NULL
CREATE TABLE dbo.` + storage.TableName + ` (
	table_name NVARCHAR(256) NOT NULL PRIMARY KEY,
	modified_since NVARCHAR(64) NULL,
	initial_sync_complete BIT NOT NULL DEFAULT 0
)`

var mergeSQL = `MERGE dbo.` + storage.TableName + ` WITH (HOLDLOCK) AS t
USING (SELECT @p1 AS table_name, @p2 AS modified_since, @p3 AS initial_sync_complete) AS s
ON t.table_name = s.table_name
WHEN MATCHED THEN UPDATE SET
	modified_since = s.modified_since,
	initial_sync_complete = s.initial_sync_complete
WHEN NOT MATCHED THEN INSERT (table_name, modified_since, initial_sync_complete)
	VALUES (s.table_name, s.modified_since, s.initial_sync_complete);`

var selectSQL = `SELECT table_name, modified_since, initial_sync_complete FROM dbo.` + storage.TableName

func (s *Store) ensureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", storage.TableName, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load(ctx context.Context) (state.State, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL)
	if err != nil {
		return nil, fmt.Errorf("mssql: load state: %w", err)
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var (
			r  storage.Row
			ms sql.NullString
		)
		if err := rows.Scan(&r.Table, &ms, &r.InitialSyncComplete); err != nil {
			return nil, fmt.Errorf("mssql: scan state: %w", err)
		}
		if ms.Valid {
			t, err := storage.ParseWatermark(ms.String)
			if err != nil {
				return nil, fmt.Errorf("mssql: table %s: %w", r.Table, err)
			}
			r.ModifiedSince = &t
		}
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
	for _, r := range storage.Rows(st) {
		if _, err := tx.ExecContext(ctx, mergeSQL, mergeArgs(r)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mssql: save state for %s: %w", r.Table, err)
		}
	}
	return tx.Commit()
}

// mergeArgs binds r to mergeSQL's positional parameters. The watermark is
// bound as RFC3339Nano text; DATETIMEOFFSET would round it to 100ns.
func mergeArgs(r storage.Row) []any {
	ms := sql.NullString{}
	if r.ModifiedSince != nil {
		ms = sql.NullString{String: storage.FormatWatermark(*r.ModifiedSince), Valid: true}
	}
	return []any{r.Table, ms, r.InitialSyncComplete}
}

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowIter, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// rowIter is the subset of *sql.Rows that Load needs.
type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (rowIter, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn  = (*sqlDB)(nil)
	_ txConn  = (*sql.Tx)(nil)
	_ rowIter = (*sql.Rows)(nil)
)
