// Package storage persists sync state between runs.
//
// Backends register a Factory under a kind from init(); import
// spreadtap/internal/storage/all to link every backend. The DSN is passed
// through untouched: a path for "file" and "sqlite", a connection URL for
// "postgres" and "mssql".
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"spreadtap/internal/state"
)

// Config selects a backend.
type Config struct {
	Kind string
	DSN  string
}

// Store loads and saves the whole state document.
type Store interface {
	// Load returns the saved state, or an empty state if nothing was saved.
	Load(ctx context.Context) (state.State, error)

	// Save durably writes every table in st. Tables absent from st are left
	// untouched. Save returns only after the write is durable.
	Save(ctx context.Context, st state.State) error

	// Close releases backend resources. Call once.
	Close() error
}

// Factory builds a Store from cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs the Store registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Row is the flattened form SQL backends store, one per table.
type Row struct {
	Table               string
	ModifiedSince       *time.Time
	InitialSyncComplete bool
}

// Rows flattens st in table name order.
func Rows(st state.State) []Row {
	out := make([]Row, 0, len(st))
	for _, name := range st.Tables() {
		ts := st[name]
		r := Row{Table: name, InitialSyncComplete: ts.InitialSyncComplete}
		if ts.ModifiedSince != nil {
			u := ts.ModifiedSince.UTC()
			r.ModifiedSince = &u
		}
		out = append(out, r)
	}
	return out
}

// FromRows rebuilds a state from stored rows.
func FromRows(rows []Row) state.State {
	st := state.New()
	for _, r := range rows {
		ts := state.TableState{InitialSyncComplete: r.InitialSyncComplete}
		if r.ModifiedSince != nil {
			u := r.ModifiedSince.UTC()
			ts.ModifiedSince = &u
		}
		st[r.Table] = ts
	}
	return st
}

// FormatWatermark renders a watermark as RFC3339Nano text in UTC. SQL
// backends store this text; native timestamp columns round off nanoseconds.
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseWatermark parses text written by FormatWatermark.
func ParseWatermark(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse watermark %q: %w", s, err)
	}
	return t.UTC(), nil
}

// TableName is the table SQL backends keep state in.
const TableName = "spreadtap_state"
