// Package gcs archives fetched pages in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket that receives archived pages.
type Config struct {
	Bucket string
}

type objectWriter interface {
	io.Writer
	Close() error
}

type openFunc func(ctx context.Context, bucket, path, contentType string) objectWriter

// BlobStore writes archived pages to a GCS bucket.
type BlobStore struct {
	bucket string
	open   openFunc
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newWithOpener(cfg, func(ctx context.Context, bucket, path, contentType string) objectWriter {
		w := client.Bucket(bucket).Object(path).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		return w
	})
}

func newWithOpener(cfg Config, open openFunc) (*BlobStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{bucket: bucket, open: open}, nil
}

// PutObject uploads r and returns a gs:// URI. The object is committed on Close.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	w := s.open(ctx, s.bucket, path, contentType)
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
