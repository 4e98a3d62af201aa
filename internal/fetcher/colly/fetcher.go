// Package collyfetcher downloads article pages with gocolly using a
// browser-like header set.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// DefaultTimeout bounds a single page download.
const DefaultTimeout = 10 * time.Second

// BrowserUserAgent is sent with every article request.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// BrowserHeaders returns the default request headers, excluding User-Agent.
func BrowserHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
		"Referer":         {"https://www.google.com/"},
		"Cache-Control":   {"max-age=0"},
	}
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Headers       http.Header
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements article.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero values fall back to the browser defaults.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = BrowserUserAgent
	}
	if cfg.Headers == nil {
		cfg.Headers = BrowserHeaders()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	// Article URLs recur across refresh cycles, so the visited set must not
	// short-circuit repeat downloads.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, request article.FetchRequest) (article.Page, error) {
	var (
		result   article.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return article.Page{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request article.FetchRequest,
	start time.Time,
	result *article.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = article.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("request failed with status code %d", r.StatusCode)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

// copyHeaders applies the configured browser headers, then request overrides.
func (f *Fetcher) copyHeaders(request article.FetchRequest, r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
