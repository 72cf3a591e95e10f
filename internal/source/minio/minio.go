// Package minio serves table files from an S3-compatible endpoint addressed
// as "minio://host:port/bucket/prefix".
//
// MINIO_ACCESS_KEY and MINIO_SECRET_KEY supply credentials (anonymous when
// unset); MINIO_SECURE=true switches to TLS.
package minio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"spreadtap/internal/retry"
	"spreadtap/internal/source"
)

func init() {
	source.Register("minio", New)
}

// Store is a source.Store over one bucket prefix on a MinIO endpoint.
type Store struct {
	root   string
	bucket string
	prefix string
	client *miniogo.Client
	retry  retry.Policy
	log    *zap.Logger
}

// ParseRoot splits "minio://host:port/bucket/prefix".
func ParseRoot(root string) (endpoint, bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(root, "minio://")
	if !ok {
		return "", "", "", fmt.Errorf("minio: %q is not a minio:// URL", root)
	}
	endpoint, path, _ := strings.Cut(rest, "/")
	if endpoint == "" {
		return "", "", "", fmt.Errorf("minio: %q has no endpoint", root)
	}
	bucket, prefix, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", "", fmt.Errorf("minio: %q has no bucket", root)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return endpoint, bucket, prefix, nil
}

// New connects to the endpoint named in root.
func New(_ context.Context, root string, opts source.Options) (source.Store, error) {
	endpoint, bucket, prefix, err := ParseRoot(root)
	if err != nil {
		return nil, err
	}

	var creds *credentials.Credentials
	if ak, sk := os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"); ak != "" && sk != "" {
		creds = credentials.NewStaticV4(ak, sk, "")
	} else {
		creds = credentials.New(&credentials.Static{})
	}

	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  creds,
		Secure: strings.EqualFold(os.Getenv("MINIO_SECURE"), "true"),
		Region: os.Getenv("MINIO_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client for %s: %w", endpoint, err)
	}

	log := opts.Log()
	return &Store{
		root:   root,
		bucket: bucket,
		prefix: prefix,
		client: client,
		retry:  opts.Retry,
		log:    log.With(zap.String("store", "minio"), zap.String("endpoint", endpoint)),
	}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	var out []source.Object
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s: %w", s.root, obj.Err)
		}
		key := strings.TrimPrefix(obj.Key, s.prefix)
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, source.Object{
			Key:          key,
			LastModified: obj.LastModified.UTC(),
			Size:         obj.Size,
		})
	}
	s.log.Debug("listed objects", zap.Int("count", len(out)))
	return out, nil
}

// Open fetches the object. GetObject is lazy, so Stat is called to surface
// missing keys here rather than on first read.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return retry.Do(ctx, s.retry, func() (io.ReadCloser, error) {
		obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+key, miniogo.GetObjectOptions{})
		if err == nil {
			_, err = obj.Stat()
		}
		if err != nil {
			if obj != nil {
				_ = obj.Close()
			}
			if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
				return nil, retry.Permanent(fmt.Errorf("%w: %s", source.ErrNotFound, key))
			}
			return nil, fmt.Errorf("minio: get %s: %w", key, err)
		}
		return obj, nil
	})
}
