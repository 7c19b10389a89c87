// Package objectstore uploads image blobs to a Google Cloud Storage
// bucket with bounded retries.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"github.com/ajeer/ajeer-backend/internal/config"
)

// ErrUpload marks an upload that failed after exhausting retries.
var ErrUpload = errors.New("object upload failed")

const (
	maxAttempts      = 3
	baseRetryBackoff = time.Second
)

// UploadResult identifies a stored object.
type UploadResult struct {
	URL string
	Key string
}

// Uploader stores blobs and returns their public location.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (*UploadResult, error)
}

// Client is a GCS-backed Uploader.
type Client struct {
	storageClient *storage.Client
	bucket        string
	publicBaseURL string
}

// NewClient creates a GCS client. A credentials file is used when
// configured; otherwise application default credentials apply.
func NewClient(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}

	return &Client{
		storageClient: storageClient,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBaseURL,
	}, nil
}

// Upload writes the blob under a generated key, retrying transient
// failures with exponential backoff up to maxAttempts.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (*UploadResult, error) {
	key := fmt.Sprintf("images/%s.jpg", uuid.NewString())

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.write(ctx, key, data, contentType); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(baseRetryBackoff << (attempt - 1)):
			}
			continue
		}
		return &UploadResult{
			URL: c.publicBaseURL + "/" + key,
			Key: key,
		}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUpload, maxAttempts, lastErr)
}

func (c *Client) write(ctx context.Context, key string, data []byte, contentType string) error {
	obj := c.storageClient.Bucket(c.bucket).Object(key)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=86400"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
