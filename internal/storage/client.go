// Package storage uploads extracted site trees to S3-compatible object
// storage with per-file content-type and cache-control policy.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MinPartSize is the S3 floor for multipart upload parts. Files at or above
// this size are streamed in parts instead of buffered whole.
const MinPartSize = 5 * 1024 * 1024

// Config carries explicit object-storage settings. Passing them at
// construction keeps the uploader testable without environment mutation.
type Config struct {
	Bucket         string
	BucketPrefix   string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	ForcePathStyle bool
	Concurrency    int
	PartSize       int64
}

// NewClient builds an S3 client for the configured endpoint. A custom
// endpoint switches the client into the path-style addressing most
// S3-compatible stores expect.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket cannot be empty")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(provider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle || cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})
	return client, nil
}
