package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by the store, small enough to
// mock in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds configuration for the S3 output store.
type S3Config struct {
	// Bucket is the target bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all written objects.
	Prefix string
}

// s3Store implements Store against an S3-compatible bucket.
type s3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 creates an S3-backed output store. The client must be pre-configured
// with credentials, region, and endpoint; use NewS3Client for the common
// cases.
func NewS3(client S3API, cfg S3Config) (Store, error) {
	if client == nil {
		return nil, errors.New("store: s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("store: s3 bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &s3Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *s3Store) Put(ctx context.Context, path string, r io.Reader) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return ErrInvalidPath
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
		Body:   r,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchBucket":
				return fmt.Errorf("store: s3 put %s: bucket %q does not exist: %w", path, s.bucket, err)
			case "AccessDenied":
				return fmt.Errorf("store: s3 put %s: access denied: %w", path, err)
			}
		}
		return fmt.Errorf("store: s3 put %s: %w", path, err)
	}
	return nil
}

// S3ClientConfig configures construction of an S3 client for AWS or
// S3-compatible services (MinIO, LocalStack, R2).
type S3ClientConfig struct {
	// Region is the bucket region. Required.
	Region string

	// Endpoint is an optional custom endpoint URL for S3-compatible
	// services, for example "http://localhost:9000" for MinIO.
	Endpoint string

	// UsePathStyle enables path-style addressing, required by some
	// S3-compatible services.
	UsePathStyle bool

	// AccessKey and SecretKey optionally set static credentials. When empty
	// the default credential chain is used.
	AccessKey string
	SecretKey string
}

// NewS3Client creates an S3 client from the given configuration.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("store: s3 region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
