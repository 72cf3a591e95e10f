// Package s3 serves table files from an S3 bucket ("s3://bucket/prefix").
//
// Credentials come from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY /
// AWS_SESSION_TOKEN when set; otherwise requests are anonymous. AWS_REGION
// selects the region (default us-east-1) and AWS_ENDPOINT_URL_S3 points the
// client at an S3-compatible endpoint using path-style addressing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"spreadtap/internal/retry"
	"spreadtap/internal/source"
)

func init() {
	source.Register("s3", New)
}

// api is the subset of the S3 client the store calls.
type api interface {
	awss3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Store is a source.Store over one bucket prefix.
type Store struct {
	root   string
	bucket string
	prefix string
	client api
	retry  retry.Policy
	log    *zap.Logger
}

// New builds a client from the environment.
func New(_ context.Context, root string, opts source.Options) (source.Store, error) {
	bucket, prefix, err := source.SplitBucket(root)
	if err != nil {
		return nil, err
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	o := awss3.Options{Region: region}
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(id, secret, os.Getenv("AWS_SESSION_TOKEN"))
	} else {
		o.Credentials = aws.AnonymousCredentials{}
	}
	if ep := strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3")); ep != "" {
		o.BaseEndpoint = aws.String(ep)
		o.UsePathStyle = true
	}

	return newStore(root, bucket, prefix, awss3.New(o), opts), nil
}

func newStore(root, bucket, prefix string, client api, opts source.Options) *Store {
	log := opts.Log()
	return &Store{
		root:   root,
		bucket: bucket,
		prefix: prefix,
		client: client,
		retry:  opts.Retry,
		log:    log.With(zap.String("store", "s3"), zap.String("bucket", bucket)),
	}
}

func (s *Store) Root() string { return s.root }

func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	})

	var out []source.Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list s3://%s/%s: %w", s.bucket, s.prefix+prefix, err)
		}
		for _, o := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(o.Key), s.prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, source.Object{
				Key:          key,
				LastModified: aws.ToTime(o.LastModified).UTC(),
				Size:         aws.ToInt64(o.Size),
			})
		}
	}
	s.log.Debug("listed objects", zap.Int("count", len(out)))
	return out, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return retry.Do(ctx, s.retry, func() (io.ReadCloser, error) {
		out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.prefix + key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return nil, retry.Permanent(fmt.Errorf("%w: s3://%s/%s", source.ErrNotFound, s.bucket, s.prefix+key))
			}
			return nil, fmt.Errorf("s3: get s3://%s/%s: %w", s.bucket, s.prefix+key, err)
		}
		return out.Body, nil
	})
}
