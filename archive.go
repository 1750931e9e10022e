package agewatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig configures uploading run artifacts to S3 or an
// S3-compatible store.
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer IAM roles or the
	// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY environment variables.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"` // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"`

	// MaxRetries for each upload (default: 3)
	MaxRetries int `yaml:"max_retries"`
}

// S3Archiver uploads the sink and the exported plot of a run under
// <prefix><session-id>/.
type S3Archiver struct {
	client  *s3.Client
	config  ArchiveConfig
	retryer *Retryer
	logger  *slog.Logger
}

// NewS3Archiver creates an archiver. No request is made until Archive.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, newConfigError("archive.bucket", "must not be empty", nil)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Archiver{
		client: client,
		config: cfg,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
		}),
		logger: logger,
	}, nil
}

// KeyFor returns the object key of file in the given session.
func (a *S3Archiver) KeyFor(sessionID, file string) string {
	return a.config.Prefix + path.Join(sessionID, filepath.Base(file))
}

// Archive uploads every file and returns the keys written. It stops at the
// first file that cannot be read or uploaded.
func (a *S3Archiver) Archive(ctx context.Context, sessionID string, files ...string) ([]string, error) {
	if sessionID == "" {
		return nil, errors.New("archive: empty session id")
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return keys, fmt.Errorf("archive: %w", err)
		}
		key := a.KeyFor(sessionID, f)
		if err := a.put(ctx, key, data); err != nil {
			return keys, err
		}
		a.logger.Info("archived", "bucket", a.config.Bucket, "key", key, "bytes", len(data))
		keys = append(keys, key)
	}
	return keys, nil
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte) error {
	result := a.retryer.Do(ctx, func(ctx context.Context) error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.config.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentTypeFor(key)),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})
	return result.LastErr
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".db", ".sqlite", ".sqlite3":
		return "application/vnd.sqlite3"
	}
	return "application/octet-stream"
}
