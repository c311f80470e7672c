package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the S3 storage configuration
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL (e.g., "http://minio:9000"); empty uses AWS
	Endpoint string

	// Region is the S3 region (e.g., "us-east-1")
	Region string

	// Bucket holds the cached tarballs
	Bucket string

	// Prefix is prepended to every key (e.g., "kernels/")
	Prefix string

	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for most S3-compatible storage)
	UsePathStyle bool
}

// S3Backend implements storage using S3-compatible object storage
type S3Backend struct {
	client *s3.Client
	config S3Config
}

// NewS3 creates a new S3 storage backend
func NewS3(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 cache bucket is not configured")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region: cfg.Region,
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Backend{client: client, config: cfg}, nil
}

func (b *S3Backend) key(key string) string {
	return b.config.Prefix + key
}

// Upload uploads data to S3
func (b *S3Backend) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.config.Bucket),
		Key:         aws.String(b.key(key)),
		Body:        reader,
		ContentType: aws.String("application/x-xz"),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// Download downloads an object from S3
func (b *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download object %s: %w", key, err)
	}

	info := &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		ETag:         aws.ToString(output.ETag),
		LastModified: aws.ToTime(output.LastModified),
	}
	return output.Body, info, nil
}

// Delete deletes an object from S3
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists checks if an object exists in S3
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object %s: %w", key, err)
	}
	return true, nil
}

// List lists objects with the given prefix
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(b.key(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			objects = append(objects, ObjectInfo{
				Key:          key[len(b.config.Prefix):],
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Ping checks that the bucket is reachable
func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", b.config.Bucket, err)
	}
	return nil
}

// Type returns the storage backend type
func (b *S3Backend) Type() string {
	return TypeS3
}

// Location returns the S3 endpoint and bucket
func (b *S3Backend) Location() string {
	if b.config.Endpoint == "" {
		return fmt.Sprintf("s3://%s/%s", b.config.Bucket, b.config.Prefix)
	}
	return fmt.Sprintf("%s/%s/%s", b.config.Endpoint, b.config.Bucket, b.config.Prefix)
}
