// Package article defines the domain types and collaborator interfaces shared
// by the refresh pipeline, the query surface, and the storage adapters.
package article

import (
	"net/http"
	"time"
)

// Placeholder values applied when the upstream feed omits a field.
const (
	DefaultTitle       = "Untitled Article"
	DefaultAuthor      = "Unknown Author"
	DefaultSourceName  = "Unknown Source"
	DefaultContent     = "No content available"
	DefaultDescription = "No description available"
	UnavailableContent = "Content unavailable"
)

// Source identifies the publisher of an article.
type Source struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

// RawArticle is one summary returned by the news API. It only lives for the
// duration of a refresh cycle.
type RawArticle struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	URL         string     `json:"url"`
	URLToImage  string     `json:"urlToImage"`
	// PublishedAt is kept as sent; it is parsed per item during enrichment
	// so a malformed date never fails the whole batch.
	PublishedAt string `json:"publishedAt"`
	Author      string     `json:"author"`
	Source      *Source    `json:"source"`
}

// Record is the persisted, enriched article.
type Record struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	URLToImage  *string   `json:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt"`
	Author      string    `json:"author"`
	Source      Source    `json:"source"`
}

// ContentResult is the outcome of recovering an article body. Text is never
// empty: on failure it carries a placeholder that embeds the error message.
type ContentResult struct {
	Text string
	Err  error
}

// OK reports whether the body was fetched and extracted without error.
func (r ContentResult) OK() bool {
	return r.Err == nil
}

// FetchRequest describes a single page download.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// Page is the raw response for a fetched article page.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ArchiveObject is a raw page snapshot written to blob storage.
type ArchiveObject struct {
	Path        string
	ContentType string
	SourceURL   string
	Body        []byte
}

// SortOrder selects the publish-time ordering for Find.
type SortOrder int

// Supported orderings.
const (
	SortNone SortOrder = iota
	SortPublishedAsc
	SortPublishedDesc
)

// Filter narrows the records matched by Count and Find. Zero fields match everything.
type Filter struct {
	ID        string
	ExcludeID string
	Search    string
}

// FindOptions controls ordering and windowing for Find.
type FindOptions struct {
	Sort  SortOrder
	Skip  int64
	Limit int64
}
