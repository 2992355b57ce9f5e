package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/model"
)

const xmlContentType = "application/xml"

// Storage wraps MinIO/S3 interactions for archived input documents.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.ArchiveBucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the archive bucket exists before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Locate returns where objectKey is stored, without touching the bucket.
func (s *Storage) Locate(objectKey string, size int64) model.ArchivedArtifact {
	return model.ArchivedArtifact{
		Bucket:    s.bucket,
		ObjectKey: objectKey,
		Location:  fmt.Sprintf("s3://%s/%s", s.bucket, objectKey),
		Size:      size,
	}
}

// Store uploads the raw document. Writing the same key again replaces the
// object, so retries are safe.
func (s *Storage) Store(ctx context.Context, objectKey string, data []byte) (model.ArchivedArtifact, error) {
	opts := minio.PutObjectOptions{ContentType: xmlContentType}
	info, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return model.ArchivedArtifact{}, fmt.Errorf("upload archive object: %w", err)
	}
	return s.Locate(objectKey, info.Size), nil
}

// Fetch downloads an archived document.
func (s *Storage) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get archive object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read archive object: %w", err)
	}
	return buf, nil
}

// PresignURL returns a signed GET URL for an archived document.
func (s *Storage) PresignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign archive object: %w", err)
	}
	return u.String(), nil
}
