package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	miniosdk "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when the requested key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Client wraps the MinIO SDK client bound to one bucket
type Client struct {
	client *miniosdk.Client
	bucket string
	logger *slog.Logger
}

// NewClient creates a MinIO client and verifies the bucket exists
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to MinIO",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	client, err := miniosdk.New(cfg.Endpoint, &miniosdk.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	logger.Info("Successfully connected to MinIO", slog.String("bucket", cfg.Bucket))

	return &Client{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Get opens the object for reading. The caller must close the reader.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, miniosdk.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the first read
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if miniosdk.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return obj, nil
}

// HealthCheck verifies the bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.client.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("object storage health check failed: %w", err)
	}
	return nil
}
