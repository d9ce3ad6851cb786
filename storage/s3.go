package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config points at an S3 compatible bucket
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
}

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Store keeps objects in an S3 bucket
type S3Store struct {
	client S3API
	bucket string
	region string
	log    *zap.Logger
}

// NewS3Store builds a path-style client. A custom endpoint (MinIO, R2) is used
// when configured, otherwise the AWS default for the region.
func NewS3Store(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Region, log), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client S3API, bucket, region string, log *zap.Logger) *S3Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Store{client: client, bucket: bucket, region: region, log: log}
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		s.log.Debug("Bucket already exists", zap.String("bucket", s.bucket))
		return nil
	}

	s.log.Info("Creating bucket", zap.String("bucket", s.bucket))

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}

	return nil
}

// Put implements BlobStore
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		Metadata:      metadata,
	})
	if err != nil {
		s.log.Error("Failed to upload file to S3", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.log.Debug("File uploaded to S3", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Head implements BlobStore
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	info := &ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(output.ContentLength),
		ContentType: aws.ToString(output.ContentType),
		Metadata:    output.Metadata,
	}
	if output.LastModified != nil {
		info.LastModified = output.LastModified.UTC()
	}

	return info, nil
}

// Get implements BlobStore
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		s.log.Error("Failed to download file from S3", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}

	return output.Body, nil
}

// List implements BlobStore. The cursor is the S3 continuation token.
// Listings carry no content type.
func (s *S3Store) List(ctx context.Context, prefix string, limit int, cursor string) (*ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		s.log.Error("Failed to list S3 objects", zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	page := &ListPage{
		Objects:   make([]ObjectInfo, 0, len(output.Contents)),
		Truncated: aws.ToBool(output.IsTruncated),
		Cursor:    aws.ToString(output.NextContinuationToken),
	}
	for _, obj := range output.Contents {
		info := ObjectInfo{
			Key:  aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			info.LastModified = obj.LastModified.UTC()
		}
		page.Objects = append(page.Objects, info)
	}

	return page, nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}
