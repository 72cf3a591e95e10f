// Package gcs serves table files from Google Cloud Storage
// ("gs://bucket/prefix").
//
// Application default credentials are used. Set GCS_ANONYMOUS=true to read
// public buckets without credentials.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"spreadtap/internal/retry"
	"spreadtap/internal/source"
)

func init() {
	source.Register("gs", New)
}

// bucket is the slice of the GCS client the store needs.
type bucket interface {
	list(ctx context.Context, prefix string) ([]source.Object, error)
	open(ctx context.Context, name string) (io.ReadCloser, error)
}

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) list(ctx context.Context, prefix string) ([]source.Object, error) {
	it := b.h.Objects(ctx, &storage.Query{Prefix: prefix})
	var out []source.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, source.Object{
			Key:          attrs.Name,
			LastModified: attrs.Updated.UTC(),
			Size:         attrs.Size,
		})
	}
}

func (b gcsBucket) open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.h.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", source.ErrNotFound, name))
	}
	return r, err
}

// Store is a source.Store over one bucket prefix.
type Store struct {
	root   string
	prefix string
	b      bucket
	retry  retry.Policy
	log    *zap.Logger
}

// New creates a storage client for root.
func New(ctx context.Context, root string, opts source.Options) (source.Store, error) {
	name, prefix, err := source.SplitBucket(root)
	if err != nil {
		return nil, err
	}

	var copts []option.ClientOption
	if strings.EqualFold(os.Getenv("GCS_ANONYMOUS"), "true") {
		copts = append(copts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return newStore(root, prefix, gcsBucket{h: client.Bucket(name)}, opts), nil
}

func newStore(root, prefix string, b bucket, opts source.Options) *Store {
	log := opts.Log()
	return &Store{
		root:   root,
		prefix: prefix,
		b:      b,
		retry:  opts.Retry,
		log:    log.With(zap.String("store", "gcs")),
	}
}

func (s *Store) Root() string { return s.root }

func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	objs, err := s.b.list(ctx, s.prefix+prefix)
	if err != nil {
		return nil, fmt.Errorf("gcs: list %s: %w", s.root, err)
	}
	out := objs[:0]
	for _, o := range objs {
		o.Key = strings.TrimPrefix(o.Key, s.prefix)
		if o.Key == "" || strings.HasSuffix(o.Key, "/") {
			continue
		}
		out = append(out, o)
	}
	s.log.Debug("listed objects", zap.Int("count", len(out)))
	return out, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return retry.Do(ctx, s.retry, func() (io.ReadCloser, error) {
		rc, err := s.b.open(ctx, s.prefix+key)
		if err != nil {
			return nil, fmt.Errorf("gcs: open %s: %w", key, err)
		}
		return rc, nil
	})
}
