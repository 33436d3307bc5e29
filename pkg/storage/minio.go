package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// MinIO publishes objects to a MinIO (or other S3-compatible) bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIO connects to MinIO and creates the bucket when it does not exist yet.
func NewMinIO(ctx context.Context, cfg MinIOConfig, logger *zap.Logger) (*MinIO, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
		logger.Info("minio bucket created", zap.String("bucket", cfg.Bucket))
	}
	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads body under key.
func (m *MinIO) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if size <= 0 {
		size = -1
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return storageErr("put", key, err)
}

// SignedGet returns a pre-signed GET URL valid for ttl.
func (m *MinIO) SignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", storageErr("presign", key, err)
	}
	return u.String(), nil
}

// Delete removes an object; missing objects are not an error.
func (m *MinIO) Delete(ctx context.Context, key string) error {
	return storageErr("delete", key, m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}
