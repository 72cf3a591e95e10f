// Package file keeps sync state in a JSON document on the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"spreadtap/internal/state"
	"spreadtap/internal/storage"
)

func init() {
	storage.Register("file", New)
}

// Store writes the state document to a single path.
type Store struct {
	path string
}

func New(_ context.Context, cfg storage.Config) (storage.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("file: empty state path")
	}
	return &Store{path: cfg.DSN}, nil
}

func (s *Store) Load(_ context.Context) (state.State, error) {
	return state.LoadFile(s.path)
}

// Save merges st over what is on disk and replaces the file atomically:
// the document is written to a temp file in the same directory, synced,
// then renamed over the target.
func (s *Store) Save(_ context.Context, st state.State) error {
	cur, err := state.LoadFile(s.path)
	if err != nil {
		return err
	}
	for k, v := range st {
		cur[k] = v
	}

	b, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file: replace state: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
