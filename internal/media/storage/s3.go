package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

// S3 stores objects in an S3-compatible bucket (AWS, MinIO, LocalStack).
type S3 struct {
	client  *s3.Client
	bucket  string
	baseURL string
	logger  *slog.Logger
}

// NewS3 loads AWS configuration, preferring static credentials from cfg.
func NewS3(ctx context.Context, cfg config.StorageConfig) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	base := cfg.PublicBaseURL
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = joinURL(cfg.Endpoint, cfg.Bucket)
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: base,
		logger:  slog.Default().With("component", "media-storage", "bucket", cfg.Bucket),
	}, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	s.logger.Debug("object stored", "key", key, "size", size)
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *S3) URL(key string) string {
	return joinURL(s.baseURL, key)
}

// Ping checks that the bucket exists and is reachable.
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
