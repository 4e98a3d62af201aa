package article

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that no record matched.
	ErrNotFound = errors.New("article not found")
	// ErrDuplicateURL is returned when an insert violates url uniqueness.
	ErrDuplicateURL = errors.New("article url already exists")
	// ErrInvalidID is returned when an id cannot be interpreted by the datastore.
	ErrInvalidID = errors.New("invalid article id")
	// ErrDatastoreUnavailable reports a datastore that failed its connectivity check.
	ErrDatastoreUnavailable = errors.New("datastore unavailable")
)

// Pinger exposes a synchronous connectivity signal.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store persists article records and answers corpus queries.
type Store interface {
	Pinger
	DeleteAll(ctx context.Context) (int64, error)
	Insert(ctx context.Context, record *Record) error
	Count(ctx context.Context, filter Filter) (int64, error)
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Record, error)
	Close(ctx context.Context) error
}

// NewsSource returns a batch of article summaries.
type NewsSource interface {
	FetchArticles(ctx context.Context) ([]RawArticle, error)
}

// ContentFetcher recovers the body text of an article page.
type ContentFetcher interface {
	FetchFullContent(ctx context.Context, url string) ContentResult
}

// PageFetcher downloads a page.
type PageFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

// HeadlessDetector decides when a page must be re-rendered in a browser.
type HeadlessDetector interface {
	ShouldPromote(page Page) bool
}

// Extractor turns page HTML into cleaned body text.
type Extractor interface {
	Extract(html []byte, sourceURL string) string
}

// BlobStore persists raw page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, obj ArchiveObject) (string, error)
}

// Publisher emits cycle events to a messaging backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
