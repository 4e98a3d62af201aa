// Package archive writes raw article pages to blob storage, keyed by content hash.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/news-refresher/internal/article"
)

const defaultContentType = "text/html; charset=utf-8"

// Archiver stores page bodies under <prefix>/<yyyy-mm-dd>/<hash>.html.
type Archiver struct {
	store  article.BlobStore
	hasher article.Hasher
	clock  article.Clock
	prefix string
}

// New wires an Archiver. All collaborators are required.
func New(store article.BlobStore, hasher article.Hasher, clock article.Clock, prefix string) (*Archiver, error) {
	if store == nil || hasher == nil || clock == nil {
		return nil, fmt.Errorf("archive requires a blob store, hasher and clock")
	}
	return &Archiver{store: store, hasher: hasher, clock: clock, prefix: prefix}, nil
}

// Archive writes the page body and returns its URI.
func (a *Archiver) Archive(ctx context.Context, page article.Page) (string, error) {
	hash, err := a.hasher.Hash(page.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	contentType := defaultContentType
	if page.Headers != nil && page.Headers.Get("Content-Type") != "" {
		contentType = page.Headers.Get("Content-Type")
	}
	uri, err := a.store.PutObject(ctx, article.ArchiveObject{
		Path:        a.path(hash),
		ContentType: contentType,
		SourceURL:   page.URL,
		Body:        page.Body,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (a *Archiver) path(hash string) string {
	day := a.clock.Now().UTC().Format("2006-01-02")
	prefix := strings.Trim(a.prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", day, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, day, hash)
}
