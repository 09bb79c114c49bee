package fusionbase

import (
	"context"
	"io"

	"github.com/fusionbase/fusionbase-go/internal/store"
)

// OutputTarget receives materialized partition files. Paths are
// slash-separated and relative to the target root; re-running a
// materialization overwrites previous files.
//
// The default target writes under GetDataOptions.StoragePath on the local
// filesystem; NewS3Output lands files in an object bucket instead.
type OutputTarget interface {
	Put(ctx context.Context, path string, r io.Reader) error
}

// S3OutputConfig configures an S3-compatible output target.
type S3OutputConfig struct {
	// Bucket is the target bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all written objects.
	Prefix string

	// Region is the bucket region. Required.
	Region string

	// Endpoint is an optional custom endpoint URL for S3-compatible
	// services such as MinIO or LocalStack.
	Endpoint string

	// UsePathStyle enables path-style addressing, required by some
	// S3-compatible services.
	UsePathStyle bool

	// AccessKey and SecretKey optionally set static credentials. When empty
	// the default credential chain is used.
	AccessKey string
	SecretKey string
}

// NewS3Output creates an output target that writes partition files to an
// S3-compatible bucket.
func NewS3Output(ctx context.Context, cfg S3OutputConfig) (OutputTarget, error) {
	client, err := store.NewS3Client(ctx, store.S3ClientConfig{
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.UsePathStyle,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return store.NewS3(client, store.S3Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
