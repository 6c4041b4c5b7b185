// Package s3 implements a transfer backend on S3-compatible object stores.
//
// Uploads map directly onto S3 multipart uploads: one chunk per part, the
// resume token carrying the upload id and the etags of completed parts.
// Downloads use ranged GETs, one chunk per request.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/driftsync/driftsync/pkg/transfer"
)

// Config holds S3 backend configuration.
type Config struct {
	// Bucket is the bucket name. Must already exist.
	Bucket string

	// Region is the AWS region.
	Region string

	// Endpoint overrides the S3 endpoint (MinIO and friends).
	Endpoint string

	// Prefix is prepended to every object key.
	Prefix string

	// AccessKeyID and SecretAccessKey are static credentials. Leave empty
	// to use the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle forces path-style addressing (required by MinIO).
	UsePathStyle bool
}

// Backend is an S3-backed transfer.Backend.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 backend and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return b, nil
}

// newClient builds the S3 client from configuration.
func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return client, nil
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) key(p string) string {
	if b.prefix == "" {
		return p
	}
	return path.Join(b.prefix, p)
}

func (b *Backend) Stat(ctx context.Context, p string) (*transfer.ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return nil, convertNotFound(err)
	}

	info := &transfer.ObjectInfo{
		Path: p,
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

func (b *Backend) ReadChunk(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, convertNotFound(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object range: %w", err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	source := b.bucket + "/" + b.key(from)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(b.key(to)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return convertNotFound(err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]*transfer.ObjectInfo, error) {
	var out []*transfer.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.key(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			p := key
			if b.prefix != "" {
				p = strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
			}
			info := &transfer.ObjectInfo{
				Path: p,
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			out = append(out, info)
		}
	}

	return out, nil
}

// convertNotFound maps S3 missing-key errors to transfer.ErrObjectNotFound.
func convertNotFound(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return transfer.ErrObjectNotFound
	}
	return err
}
