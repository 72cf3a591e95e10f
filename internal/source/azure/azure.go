// Package azure serves table files from Azure Blob Storage
// ("az://container/prefix").
//
// The storage account comes from AZURE_STORAGE_ACCOUNT. When
// AZURE_STORAGE_KEY is set a shared-key credential is used, otherwise the
// container must allow anonymous reads.
package azure

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"spreadtap/internal/retry"
	"spreadtap/internal/source"
)

func init() {
	source.Register("az", New)
}

type container interface {
	list(ctx context.Context, prefix string) ([]source.Object, error)
	open(ctx context.Context, name string) (io.ReadCloser, error)
}

type blobContainer struct {
	client *azblob.Client
	name   string
}

func (c blobContainer) list(ctx context.Context, prefix string) ([]source.Object, error) {
	pager := c.client.NewListBlobsFlatPager(c.name, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var out []source.Object
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			o := source.Object{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.LastModified != nil {
					o.LastModified = p.LastModified.UTC()
				}
				if p.ContentLength != nil {
					o.Size = *p.ContentLength
				}
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (c blobContainer) open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, c.name, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, retry.Permanent(fmt.Errorf("%w: %s", source.ErrNotFound, name))
		}
		return nil, err
	}
	return resp.Body, nil
}

// Store is a source.Store over one container prefix.
type Store struct {
	root   string
	prefix string
	c      container
	retry  retry.Policy
	log    *zap.Logger
}

// New builds a blob client for root.
func New(_ context.Context, root string, opts source.Options) (source.Store, error) {
	name, prefix, err := source.SplitBucket(root)
	if err != nil {
		return nil, err
	}
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	if account == "" {
		return nil, fmt.Errorf("azure: AZURE_STORAGE_ACCOUNT is not set")
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)

	var client *azblob.Client
	if key := os.Getenv("AZURE_STORAGE_KEY"); key != "" {
		cred, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, fmt.Errorf("azure: shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
	} else {
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
	}

	return newStore(root, prefix, blobContainer{client: client, name: name}, opts), nil
}

func newStore(root, prefix string, c container, opts source.Options) *Store {
	log := opts.Log()
	return &Store{root: root, prefix: prefix, c: c, retry: opts.Retry, log: log.With(zap.String("store", "azure"))}
}

func (s *Store) Root() string { return s.root }

func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	objs, err := s.c.list(ctx, s.prefix+prefix)
	if err != nil {
		return nil, fmt.Errorf("azure: list %s: %w", s.root, err)
	}
	out := objs[:0]
	for _, o := range objs {
		o.Key = strings.TrimPrefix(o.Key, s.prefix)
		if o.Key == "" {
			continue
		}
		out = append(out, o)
	}
	s.log.Debug("listed blobs", zap.Int("count", len(out)))
	return out, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return retry.Do(ctx, s.retry, func() (io.ReadCloser, error) {
		rc, err := s.c.open(ctx, s.prefix+key)
		if err != nil {
			return nil, fmt.Errorf("azure: open %s: %w", key, err)
		}
		return rc, nil
	})
}
