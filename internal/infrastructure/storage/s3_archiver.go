package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	infraconfig "github.com/konozy/ordersync/internal/infrastructure/config"
)

const reportContentType = "application/json"

// Ensure S3ReportArchiver implements ReportArchiver
var _ ordersync.ReportArchiver = (*S3ReportArchiver)(nil)

// S3ReportArchiver writes run reports to any S3-compatible store
// (AWS S3, MinIO, RustFS).
type S3ReportArchiver struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// S3ReportArchiverOption is a functional option for configuring S3ReportArchiver
type S3ReportArchiverOption func(*S3ReportArchiver)

// WithLogger sets a custom logger for S3ReportArchiver
func WithLogger(logger *zap.Logger) S3ReportArchiverOption {
	return func(s *S3ReportArchiver) {
		s.logger = logger
	}
}

// WithPrefix places every report key under prefix
func WithPrefix(prefix string) S3ReportArchiverOption {
	return func(s *S3ReportArchiver) {
		s.prefix = prefix
	}
}

// WithClock sets the clock stamped into ArchivedAt
func WithClock(now func() time.Time) S3ReportArchiverOption {
	return func(s *S3ReportArchiver) {
		s.now = now
	}
}

// NewS3ReportArchiver creates an archiver from configuration.
func NewS3ReportArchiver(cfg *infraconfig.StorageConfig, opts ...S3ReportArchiverOption) (*S3ReportArchiver, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
		// MinIO and RustFS reject the newer default checksum trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	opts = append([]S3ReportArchiverOption{WithPrefix(cfg.Prefix)}, opts...)
	return NewS3ReportArchiverWithClient(client, cfg.Bucket, opts...)
}

// NewS3ReportArchiverWithClient wraps an already configured client.
func NewS3ReportArchiverWithClient(client *s3.Client, bucket string, opts ...S3ReportArchiverOption) (*S3ReportArchiver, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	s := &S3ReportArchiver{
		client: client,
		bucket: bucket,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	return endpoint, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup to ensure the bucket is ready.
func (s *S3ReportArchiver) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating report bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive uploads the finalized record and its events and returns the
// s3:// location of the report.
func (s *S3ReportArchiver) Archive(ctx context.Context, record *execution.Record, events []execution.Event) (string, error) {
	body, err := encodeReport(record, events, s.now())
	if err != nil {
		return "", err
	}
	key := ReportKey(s.prefix, record)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(reportContentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"execution-id": record.ID.String(),
			"status":       record.Status.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", key, err)
	}

	s.logger.Debug("Run report archived",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("size", len(body)),
	)
	return "s3://" + s.bucket + "/" + key, nil
}

// Bucket returns the configured bucket name
func (s *S3ReportArchiver) Bucket() string {
	return s.bucket
}
