package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spreadtap/internal/state"
	"spreadtap/internal/storage"
)

/*
Store keeps sync state in Postgres, one row per table.

Save runs every upsert in a single transaction so a checkpoint is either
fully written or not at all.
*/
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New opens a pool for cfg.DSN and ensures the state table exists.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table %s: %w", storage.TableName, err)
	}
	return &Store{pool: pool}, nil
}

var createSQL = `CREATE TABLE IF NOT EXISTS ` + storage.TableName + ` (
	table_name TEXT PRIMARY KEY,
	modified_since TEXT NULL,
	initial_sync_complete BOOLEAN NOT NULL DEFAULT FALSE
)`

var upsertSQL = `INSERT INTO ` + storage.TableName + ` (table_name, modified_since, initial_sync_complete)
VALUES ($1, $2, $3)
ON CONFLICT (table_name) DO UPDATE SET
	modified_since = EXCLUDED.modified_since,
	initial_sync_complete = EXCLUDED.initial_sync_complete`

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Load(ctx context.Context) (state.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name, modified_since, initial_sync_complete FROM `+storage.TableName)
	if err != nil {
		return nil, fmt.Errorf("postgres: load state: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Row, error) {
		var (
			table string
			ms    *string
			done  bool
		)
		if err := row.Scan(&table, &ms, &done); err != nil {
			return storage.Row{}, err
		}
		return scanRow(table, ms, done)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan state: %w", err)
	}
	return storage.FromRows(out), nil
}

func (s *Store) Save(ctx context.Context, st state.State) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range storage.Rows(st) {
			batch.Queue(upsertSQL, upsertArgs(r)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save state: %w", err)
		}
		return nil
	})
}

// upsertArgs binds r to upsertSQL. The watermark is stored as text so it
// keeps nanosecond precision.
func upsertArgs(r storage.Row) []any {
	var ms *string
	if r.ModifiedSince != nil {
		v := storage.FormatWatermark(*r.ModifiedSince)
		ms = &v
	}
	return []any{r.Table, ms, r.InitialSyncComplete}
}

func scanRow(table string, ms *string, done bool) (storage.Row, error) {
	r := storage.Row{Table: table, InitialSyncComplete: done}
	if ms != nil {
		t, err := storage.ParseWatermark(*ms)
		if err != nil {
			return r, fmt.Errorf("table %s: %w", table, err)
		}
		r.ModifiedSince = &t
	}
	return r, nil
}
