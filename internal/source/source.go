// Package source lists and opens the files that back a table.
//
// Every storage location (local directory, S3 bucket, GCS bucket, Azure
// container, MinIO endpoint, HTTP index) is exposed through the same Store
// interface. Backends live in sub-packages and register a Factory for their
// URL scheme from init(); import spreadtap/internal/source/all to link them
// all in.
//
// Keys returned by List are relative to the store root and always use "/"
// as separator, regardless of backend.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"spreadtap/internal/retry"
)

// Object is one physical file.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Store lists and opens objects under one root location.
type Store interface {
	// Root returns the location the store was opened with.
	Root() string

	// List returns every object under the root whose key starts with prefix.
	// Order is unspecified.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Open returns a reader for the object. Callers must Close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options carries collaborators shared by all backends.
type Options struct {
	Logger *zap.Logger

	// HTTPClient is used by backends that speak plain HTTP. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// HTTPRequestsPerSecond limits per-object metadata requests made by the
	// HTTP backend. Zero disables limiting.
	HTTPRequestsPerSecond float64

	// Retry governs how remote Open calls are retried.
	Retry retry.Policy
}

// Log returns the configured logger or a no-op one.
func (o Options) Log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

var (
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")
	ErrNotFound          = errors.New("source: object not found")
)

// Factory builds a Store for root. scheme has already been matched.
type Factory func(ctx context.Context, root string, opts Options) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available for a URL scheme ("file", "s3", ...).
//
// Panics if scheme is empty, f is nil, or scheme is already registered, so
// ambiguous wiring fails at start-up rather than at the first sync.
func Register(scheme string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if scheme == "" {
		panic("source: Register called with empty scheme")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[scheme]; exists {
		panic(fmt.Sprintf("source: factory already registered for scheme=%q", scheme))
	}
	factories[scheme] = f
}

// Scheme returns the URL scheme of root. Paths without a scheme are "file".
func Scheme(root string) string {
	i := strings.Index(root, "://")
	if i <= 0 {
		return "file"
	}
	return strings.ToLower(root[:i])
}

// Open constructs the Store registered for root's scheme.
func Open(ctx context.Context, root string, opts Options) (Store, error) {
	scheme := Scheme(root)

	mu.RLock()
	f := factories[scheme]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %q (root %s)", ErrUnsupportedScheme, scheme, root)
	}
	return f(ctx, root, opts)
}

// SplitBucket splits "scheme://bucket/some/prefix" into bucket and prefix.
// The returned prefix has no leading slash and, when non-empty, ends in "/".
func SplitBucket(root string) (bucket, prefix string, err error) {
	i := strings.Index(root, "://")
	if i <= 0 {
		return "", "", fmt.Errorf("source: %q is not a URL", root)
	}
	rest := root[i+3:]
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("source: %q has no bucket", root)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}
