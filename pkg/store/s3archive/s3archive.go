// Package s3archive is an optional off-host archive sink for
// pkg/store.Store.Archive: alongside the local "<base>/backup/<opID>/"
// copy SPEC_FULL.md §4.1 mandates, a Sink lets the final snapshot and
// logs additionally land in object storage for retention past the
// lifetime of the host's filesystem. Grounded on the S3 client setup in
// pithecene-io-quarry/quarry/lode/client_s3.go.
package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink uploads archived operation artifacts.
type Sink interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Config configures an S3-backed Sink.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return errors.New("s3archive: bucket is required")
	}
	return nil
}

// S3Sink uploads archive artifacts to an S3-compatible bucket using the
// AWS SDK's default credential chain (env vars, shared config, IAM role).
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an S3Sink, loading AWS config with the optional region
// override and applying custom-endpoint/path-style options for
// S3-compatible providers (R2, MinIO, etc.).
func New(ctx context.Context, cfg Config) (*S3Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Upload puts data at <prefix>/<key> in the configured bucket.
func (s *S3Sink) Upload(ctx context.Context, key string, data []byte) error {
	fullKey := key
	if s.prefix != "" {
		fullKey = s.prefix + "/" + key
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3archive: put object %s: %w", fullKey, err)
	}
	return nil
}
