// Package s3 stores report runs in an S3 bucket. Any S3-compatible endpoint
// works; MinIO needs UsePathStyle.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/helix-io/helix/internal/objectstore"
)

// DefaultRegion is used when Config.Region is empty.
const DefaultRegion = "us-east-1"

var ErrClosed = errors.New("s3: store is closed")

type Config struct {
	Bucket string
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://minio:9000".
	Endpoint string

	// Static credentials. The default AWS chain applies unless both are set.
	AccessKeyID     string
	SecretAccessKey string

	UsePathStyle bool
}

// Store is an objectstore.Store on one bucket.
type Store struct {
	client *s3.Client
	bucket string
	closed atomic.Bool
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Report parts are small single PUTs; the SDK otherwise logs a
		// warning for every GET without a response checksum.
		o.DisableLogOutputChecksumValidationSkipped = true
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(classify(err), objectstore.ErrNotFound) {
		return s.fail("HeadBucket", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return s.fail("CreateBucket", s.bucket, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return s.fail("Put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, s.fail("Get", key, err)
	}
	return out.Body, nil
}

func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if s.closed.Load() {
		return objectstore.ObjectMeta{}, ErrClosed
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return objectstore.ObjectMeta{}, s.fail("Head", key, err)
	}
	return objectstore.ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil || errors.Is(classify(err), objectstore.ErrNotFound) {
		return nil
	}
	return s.fail("Delete", key, err)
}

// List pages through ListObjectsV2, which returns keys in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out []objectstore.ObjectMeta
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, s.fail("List", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, objectstore.ObjectMeta{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) fail(op, key string, err error) error {
	return &objectstore.ObjectError{Op: op, Key: key, Err: classify(err)}
}

// classify maps SDK errors onto objectstore sentinels, returning err
// unchanged when none applies.
func classify(err error) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		resp     *awshttp.ResponseError
	)
	switch {
	case errors.As(err, &noBucket):
		return objectstore.ErrBucketNotFound
	case errors.As(err, &noKey):
		return objectstore.ErrNotFound
	case errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound:
		return objectstore.ErrNotFound
	case errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusForbidden:
		return objectstore.ErrAccessDenied
	}
	return err
}

var _ objectstore.Store = (*Store)(nil)
