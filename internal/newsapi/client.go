// Package newsapi fetches article summaries from the upstream news API.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/news-refresher/internal/article"
)

const (
	// DefaultTimeout bounds a single news API call.
	DefaultTimeout = 30 * time.Second
	// UserAgent identifies the refresher to the news API.
	UserAgent = "NewsApp/1.0"

	maxResponseBytes = 16 << 20
)

type response struct {
	Status   string               `json:"status"`
	Articles []article.RawArticle `json:"articles"`
}

// Client implements article.NewsSource over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client for the endpoint at url.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("news api url is required")
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchArticles performs one GET and decodes the articles array. Any non-2xx
// status is an error.
func (c *Client) FetchArticles(ctx context.Context) ([]article.RawArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build news api request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request news api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode news api response: %w", err)
	}
	return body.Articles, nil
}
