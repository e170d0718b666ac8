package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO keeps uploaded images in an S3-compatible bucket and hands out presigned URLs for them. Use it
// instead of Blobs when the server shouldn't hold images in memory.
type MinIO struct {
	mc     *minio.Client
	bucket string
	expiry time.Duration

	logger *slog.Logger
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLExpiry time.Duration
}

type objectRef struct {
	m    *MinIO
	name string
	url  string
	once sync.Once
}

const defaultURLExpiry = 24 * time.Hour

// NewMinIO creates a MinIO allocator. It doesn't contact the server; call Init for that.
func NewMinIO(cfg MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	expiry := cfg.URLExpiry
	if expiry == 0 {
		expiry = defaultURLExpiry
	}

	return &MinIO{
		mc:     mc,
		bucket: cfg.Bucket,
		expiry: expiry,
		logger: logger.With(slog.String("module", "minio")),
	}, nil
}

// Init creates the bucket if it doesn't exist.
func (m *MinIO) Init(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("Bucket created", slog.String("bucket", m.bucket))
	return nil
}

// Allocate uploads the image and returns a reference holding a presigned URL to it.
func (m *MinIO) Allocate(ctx context.Context, file models.Upload) (models.ImageRef, error) {
	if len(file.Data) == 0 {
		return nil, ErrEmptyImage
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	name := "uploads/" + uuid.New().String() + path.Ext(file.Name)
	_, err := m.mc.PutObject(ctx, m.bucket, name, bytes.NewReader(file.Data), int64(len(file.Data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	u, err := m.mc.PresignedGetObject(ctx, m.bucket, name, m.expiry, nil)
	if err != nil {
		m.remove(name)
		return nil, fmt.Errorf("presign %s: %w", name, err)
	}

	return &objectRef{m: m, name: name, url: u.String()}, nil
}

func (m *MinIO) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.mc.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		m.logger.Error("Failed to remove image",
			slog.String("object", name),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (r *objectRef) URL() string {
	return r.url
}

func (r *objectRef) Release() {
	r.once.Do(func() {
		r.m.remove(r.name)
	})
}
