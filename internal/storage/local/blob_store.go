// Package local archives raw article pages on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory snapshots are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes page snapshots to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a filesystem blob store, creating BaseDir when missing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes the snapshot below BaseDir and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, obj article.ArchiveObject) (string, error) {
	if strings.TrimSpace(obj.Path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, obj.Path))
	if !strings.HasPrefix(fullPath, filepath.Clean(s.baseDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, obj.Body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + fullPath, nil
}
