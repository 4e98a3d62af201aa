// Package content recovers the full body text of an article page. It
// downloads the page, optionally re-renders it headless, archives the raw
// HTML, and hands the body to the extraction engine.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/metrics"
)

// ErrorPrefix starts the placeholder text returned when a fetch fails.
const ErrorPrefix = "Error fetching full content: "

// Archiver persists raw pages.
type Archiver interface {
	Archive(ctx context.Context, page article.Page) (string, error)
}

// Limiter throttles downloads per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Service implements article.ContentFetcher.
type Service struct {
	limiter   Limiter
	probe     article.PageFetcher
	extractor article.Extractor
	headless  article.PageFetcher
	detector  article.HeadlessDetector
	archiver  Archiver
	logger    *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithHeadless enables re-rendering pages the detector flags as client-rendered.
func WithHeadless(fetcher article.PageFetcher, detector article.HeadlessDetector) Option {
	return func(s *Service) {
		s.headless = fetcher
		s.detector = detector
	}
}

// WithArchiver stores every fetched page before extraction.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithLimiter waits on l before every download.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Service around the probe fetcher and extractor.
func New(probe article.PageFetcher, extractor article.Extractor, opts ...Option) (*Service, error) {
	if probe == nil {
		return nil, errors.New("page fetcher is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	s := &Service{probe: probe, extractor: extractor, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("content")
	return s, nil
}

// Failure builds the placeholder result for err.
func Failure(err error) article.ContentResult {
	return article.ContentResult{Text: ErrorPrefix + err.Error(), Err: err}
}

// FetchFullContent downloads url and returns the extracted body. Errors and
// panics are folded into the result; Text is never empty.
func (s *Service) FetchFullContent(ctx context.Context, url string) (result article.ContentResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("content fetch panicked", zap.String("url", url), zap.Any("panic", r))
			result = Failure(fmt.Errorf("panic: %v", r))
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			metrics.ObserveScrape(url, "throttled", 0)
			return Failure(err)
		}
	}

	page, err := s.probe.Fetch(ctx, article.FetchRequest{URL: url})
	if err != nil {
		metrics.ObserveScrape(url, "error", 0)
		s.logger.Warn("article fetch failed", zap.String("url", url), zap.Error(err))
		return Failure(err)
	}
	s.logger.Debug("article fetched",
		zap.String("url", url),
		zap.Int("status", page.StatusCode),
		zap.Duration("duration", page.Duration),
	)

	page = s.maybePromote(ctx, url, page)
	s.archive(ctx, page)

	outcome := "ok"
	if page.UsedHeadless {
		outcome = "headless"
	}
	metrics.ObserveScrape(url, outcome, len(page.Body))

	sourceURL := page.URL
	if sourceURL == "" {
		sourceURL = url
	}
	return article.ContentResult{Text: s.extractor.Extract(page.Body, sourceURL)}
}

func (s *Service) maybePromote(ctx context.Context, url string, page article.Page) article.Page {
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(page) {
		return page
	}
	rendered, err := s.headless.Fetch(ctx, article.FetchRequest{URL: url})
	if err != nil {
		s.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return page
	}
	rendered.UsedHeadless = true
	s.logger.Info("headless promotion applied", zap.String("url", url))
	return rendered
}

func (s *Service) archive(ctx context.Context, page article.Page) {
	if s.archiver == nil {
		return
	}
	uri, err := s.archiver.Archive(ctx, page)
	if err != nil {
		s.logger.Warn("archive page failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	s.logger.Debug("page archived", zap.String("url", page.URL), zap.String("uri", uri))
}
