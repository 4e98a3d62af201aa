// Package gcs archives raw article pages in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes page snapshots to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads the snapshot and returns a gs:// URI. The page URL is kept
// in the object metadata under source_url.
func (s *BlobStore) PutObject(ctx context.Context, obj article.ArchiveObject) (string, error) {
	if strings.TrimSpace(obj.Path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(obj.Path).NewWriter(ctx)
	if obj.ContentType != "" {
		writer.ContentType = obj.ContentType
	}
	if obj.SourceURL != "" {
		writer.Metadata = map[string]string{"source_url": obj.SourceURL}
	}
	if err := upload(writer, obj.Body); err != nil {
		return "", err
	}
	return ObjectURI(s.bucket, obj.Path), nil
}

// ObjectURI formats the gs:// location of an object.
func ObjectURI(bucket, path string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(path, "/"))
}

func upload(w io.WriteCloser, body []byte) error {
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
