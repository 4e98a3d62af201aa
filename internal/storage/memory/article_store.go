// Package memory provides in-process storage for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/google/uuid"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// Search weights mirror the datastore text indexes.
const (
	titleWeight       = 5
	descriptionWeight = 3
	contentWeight     = 1
)

// ArticleStore is an article.Store held in memory. Records are kept in
// insertion order and url uniqueness is enforced on Insert.
type ArticleStore struct {
	mu      sync.RWMutex
	records []article.Record
	byURL   map[string]int
	down    atomic.Bool
}

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{byURL: make(map[string]int)}
}

// SetAvailable toggles the result of Ping.
func (s *ArticleStore) SetAvailable(ok bool) {
	s.down.Store(!ok)
}

// Ping reports article.ErrDatastoreUnavailable after SetAvailable(false).
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.down.Load() {
		return article.ErrDatastoreUnavailable
	}
	return nil
}

// DeleteAll removes every record.
func (s *ArticleStore) DeleteAll(_ context.Context) (int64, error) {
	if s.down.Load() {
		return 0, article.ErrDatastoreUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records))
	s.records = nil
	s.byURL = make(map[string]int)
	return n, nil
}

// Insert stores a copy of record and assigns its ID.
func (s *ArticleStore) Insert(_ context.Context, record *article.Record) error {
	if s.down.Load() {
		return article.ErrDatastoreUnavailable
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[record.URL]; exists {
		return article.ErrDuplicateURL
	}
	record.ID = id.String()
	s.byURL[record.URL] = len(s.records)
	s.records = append(s.records, *record)
	return nil
}

// Count returns the number of records matching filter.
func (s *ArticleStore) Count(_ context.Context, filter article.Filter) (int64, error) {
	matched, err := s.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Find returns the records matching filter ordered and windowed per opts.
func (s *ArticleStore) Find(_ context.Context, filter article.Filter, opts article.FindOptions) ([]article.Record, error) {
	matched, err := s.match(filter)
	if err != nil {
		return nil, err
	}
	switch opts.Sort {
	case article.SortPublishedAsc:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].PublishedAt.Before(matched[j].PublishedAt)
		})
	case article.SortPublishedDesc:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].PublishedAt.After(matched[j].PublishedAt)
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			return []article.Record{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Close is a no-op.
func (s *ArticleStore) Close(context.Context) error { return nil }

func (s *ArticleStore) match(filter article.Filter) ([]article.Record, error) {
	if s.down.Load() {
		return nil, article.ErrDatastoreUnavailable
	}
	for _, id := range []string{filter.ID, filter.ExcludeID} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, article.ErrInvalidID
		}
	}
	terms := searchTerms(filter.Search)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]article.Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.ID != "" && rec.ID != filter.ID {
			continue
		}
		if filter.ExcludeID != "" && rec.ID == filter.ExcludeID {
			continue
		}
		if strings.TrimSpace(filter.Search) != "" && score(rec, terms) == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func searchTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// score is the weighted count of query terms present in each indexed field.
func score(rec article.Record, terms []string) int {
	title := strings.ToLower(rec.Title)
	description := strings.ToLower(rec.Description)
	content := strings.ToLower(rec.Content)
	total := 0
	for _, term := range terms {
		if strings.Contains(title, term) {
			total += titleWeight
		}
		if strings.Contains(description, term) {
			total += descriptionWeight
		}
		if strings.Contains(content, term) {
			total += contentWeight
		}
	}
	return total
}
