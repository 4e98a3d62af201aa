package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// BlobStore keeps raw page snapshots in memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]article.ArchiveObject
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]article.ArchiveObject)}
}

// PutObject persists a copy of the snapshot and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, obj article.ArchiveObject) (string, error) {
	if strings.TrimSpace(obj.Path) == "" {
		return "", fmt.Errorf("path is required")
	}
	obj.Body = append([]byte(nil), obj.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Path] = obj
	return "memory://" + obj.Path, nil
}

// Object returns the snapshot stored at path.
func (s *BlobStore) Object(path string) (article.ArchiveObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return article.ArchiveObject{}, false
	}
	obj.Body = append([]byte(nil), obj.Body...)
	return obj, true
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
