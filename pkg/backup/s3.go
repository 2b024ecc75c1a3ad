// Package backup mirrors snapshot archives to S3-compatible object storage.
// Mirroring is best-effort and asynchronous: a failed upload never fails the
// snapshot that triggered it.
package backup

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
)

// Config holds configuration for the S3 snapshot mirror.
type Config struct {
	// Enabled turns mirroring on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// KeyPrefix is prepended to all snapshot keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// AccessKey and SecretKey override the SDK credential chain when both
	// are set (for MinIO and friends).
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`

	// ForcePathStyle forces path-style addressing (required for MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// Mirror uploads snapshot archives to a bucket.
type Mirror struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New creates a mirror with an existing client.
func New(client *s3.Client, config Config) *Mirror {
	return &Mirror{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: config.KeyPrefix,
	}
}

// NewFromConfig creates a mirror by building an S3 client from config.
func NewFromConfig(ctx context.Context, config Config) (*Mirror, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("snapshot mirror requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), config), nil
}

// Mirror uploads one snapshot archive. The object key is
// <prefix>/<project_id>/<snapshot_id>.netsnap.
func (m *Mirror) Mirror(ctx context.Context, projectID, snapshotID, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer func() { _ = file.Close() }()

	key := path.Join(m.keyPrefix, projectID, snapshotID+".netsnap")
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}

	logger.Info("snapshot mirrored",
		logger.KeyProjectID, projectID,
		logger.KeySnapshotID, snapshotID,
		logger.KeyBucket, m.bucket,
		"key", key,
	)
	return nil
}

var _ controller.SnapshotMirror = (*Mirror)(nil)
