// Package local serves table files from a directory on the local filesystem.
//
// Roots may be written as "file:///abs/dir", "file://rel/dir" or a bare path.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"spreadtap/internal/source"
)

func init() {
	source.Register("file", New)
}

// Store is a source.Store over a directory tree.
type Store struct {
	root string
	dir  string
}

// New opens root. The directory must exist.
func New(_ context.Context, root string, _ source.Options) (source.Store, error) {
	dir := strings.TrimPrefix(root, "file://")
	if dir == "" {
		dir = "."
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local: stat root %s: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("local: root %s is not a directory", dir)
	}
	return &Store{root: root, dir: dir}, nil
}

func (s *Store) Root() string { return s.root }

// List walks the directory tree. Hidden directories are not skipped; the
// table pattern decides what is relevant.
func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	var out []source.Object
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, source.Object{
			Key:          key,
			LastModified: info.ModTime().UTC(),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local: walk %s: %w", s.dir, err)
	}
	return out, nil
}

func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return nil, fmt.Errorf("local: key %q escapes root", key)
	}
	f, err := os.Open(filepath.Join(s.dir, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", source.ErrNotFound, key)
		}
		return nil, fmt.Errorf("local: open %s: %w", key, err)
	}
	return f, nil
}
