// Package enrich turns a raw news API summary into a persistable record,
// recovering truncated bodies and filling missing fields.
package enrich

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/clock/system"
	"github.com/JakeFAU/news-refresher/internal/retry"
)

const (
	// ScrapeDelay is waited before every page fetch.
	ScrapeDelay = time.Second
	// MinFullContentLength is the body length under which content counts as truncated.
	MinFullContentLength = 1000
	// DescriptionLength is the cut used when synthesizing a description.
	DescriptionLength = 150
)

var truncationMarkers = []string{"[+", "... [", "...", "…"}

// NeedsScraping reports whether the article body must be fetched from its page.
func NeedsScraping(raw article.RawArticle) bool {
	if raw.URL == "" {
		return false
	}
	content := raw.Content
	if content == "" || utf8.RuneCountInString(content) < MinFullContentLength {
		return true
	}
	for _, marker := range truncationMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// Describe synthesizes a description from content. The first
// DescriptionLength characters are kept and trimmed back to the last period
// when it falls past the halfway mark; a full-length cut otherwise gets "...".
func Describe(content string) string {
	if content == "" {
		return article.DefaultDescription
	}
	runes := []rune(content)
	if len(runes) > DescriptionLength {
		runes = runes[:DescriptionLength]
	}
	cut := string(runes)
	lastPeriod := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '.' {
			lastPeriod = i
			break
		}
	}
	switch {
	case lastPeriod > DescriptionLength/2:
		return string(runes[:lastPeriod+1])
	case len(runes) == DescriptionLength:
		return cut + "..."
	default:
		return cut
	}
}

// Enricher implements the per-article enrichment step.
type Enricher struct {
	fetcher article.ContentFetcher
	clock   article.Clock
	sleep   func(ctx context.Context, d time.Duration) error
	delay   time.Duration
	logger  *zap.Logger
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithClock sets the clock used for missing publish times.
func WithClock(c article.Clock) Option {
	return func(e *Enricher) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSleep replaces the delay function, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Enricher) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Enricher backed by fetcher.
func New(fetcher article.ContentFetcher, opts ...Option) *Enricher {
	e := &Enricher{
		fetcher: fetcher,
		clock:   system.New(),
		sleep:   retry.Sleep,
		delay:   ScrapeDelay,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("enrich")
	return e
}

// Enrich builds the record for raw. It calls the content fetcher at most once.
func (e *Enricher) Enrich(ctx context.Context, raw article.RawArticle) article.Record {
	content := raw.Content
	if NeedsScraping(raw) {
		content = e.fetchBody(ctx, raw)
	}

	description := raw.Description
	if strings.TrimSpace(description) == "" {
		description = Describe(content)
	}

	rec := article.Record{
		Title:       raw.Title,
		Description: description,
		Content:     content,
		URL:         raw.URL,
		Author:      raw.Author,
	}
	if rec.Title == "" {
		rec.Title = article.DefaultTitle
	}
	if rec.Content == "" {
		rec.Content = article.DefaultContent
	}
	if rec.Author == "" {
		rec.Author = article.DefaultAuthor
	}
	if raw.URLToImage != "" {
		img := raw.URLToImage
		rec.URLToImage = &img
	}
	if published, ok := ParsePublished(raw.PublishedAt); ok {
		rec.PublishedAt = published
	} else {
		if raw.PublishedAt != "" {
			e.logger.Debug("unparseable publishedAt, using current time",
				zap.String("url", raw.URL), zap.String("published_at", raw.PublishedAt))
		}
		rec.PublishedAt = e.clock.Now()
	}
	if raw.Source != nil {
		rec.Source = *raw.Source
	} else {
		rec.Source = article.Source{Name: article.DefaultSourceName}
	}
	return rec
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParsePublished parses a news API timestamp into UTC. Blank, zero or
// unrecognised values report false.
func ParsePublished(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil && !t.IsZero() {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// fetchBody fetches the page body. Cancellation or a panic keeps the prior
// content, or "Content unavailable" when there was none.
func (e *Enricher) fetchBody(ctx context.Context, raw article.RawArticle) (content string) {
	fallback := raw.Content
	if fallback == "" {
		fallback = article.UnavailableContent
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("content fetch panicked", zap.String("url", raw.URL), zap.Any("panic", r))
			content = fallback
		}
	}()

	if err := e.sleep(ctx, e.delay); err != nil {
		e.logger.Warn("scrape delay interrupted", zap.String("url", raw.URL), zap.Error(err))
		return fallback
	}
	if e.fetcher == nil {
		e.logger.Warn("no content fetcher configured", zap.String("url", raw.URL))
		return fallback
	}
	e.logger.Debug("scraping full content", zap.String("url", raw.URL))
	result := e.fetcher.FetchFullContent(ctx, raw.URL)
	if !result.OK() {
		e.logger.Warn("content fetch failed", zap.String("url", raw.URL), zap.Error(result.Err))
	}
	if result.Text == "" {
		return fallback
	}
	return result.Text
}
