package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-refresher/internal/article"
)

func TestFetcher_SendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>hello</p></body></html>"))
	}))
	defer srv.Close()

	f := New(Config{})
	page, err := f.Fetch(context.Background(), article.FetchRequest{URL: srv.URL + "/story"})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "hello")
	got := <-seen
	require.Equal(t, BrowserUserAgent, got.Get("User-Agent"))
	require.Equal(t, "en-US,en;q=0.5", got.Get("Accept-Language"))
	require.Equal(t, "https://www.google.com/", got.Get("Referer"))
	require.Equal(t, "max-age=0", got.Get("Cache-Control"))
	require.Contains(t, got.Get("Accept"), "text/html")
}

func TestFetcher_RevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<p>again</p>"))
	}))
	defer srv.Close()

	f := New(Config{})
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), article.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestFetcher_NotFoundIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), article.FetchRequest{URL: srv.URL + "/missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestFetcher_TimeoutIsError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), article.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestFetcher_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{})
	_, err := f.Fetch(ctx, article.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := article.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"Referer": {"https://news.example.com/"}},
	}
	var result article.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "https://news.example.com/", collyReq.Headers.Get("Referer"))
	require.Equal(t, "max-age=0", collyReq.Headers.Get("Cache-Control"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.EqualError(t, fetchErr, "request failed with status code 403")

	hooks.onError(nil, errors.New("dial tcp: refused"))
	require.EqualError(t, fetchErr, "dial tcp: refused")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
