// Package headless renders article pages in headless Chrome for sites that
// build their body client-side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/news-refresher/internal/article"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Fetcher implements article.PageFetcher using chromedp.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher. The browser process starts lazily on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the page and returns the rendered DOM. Document
// responses with an error status are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, request article.FetchRequest) (article.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return article.Page{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	var html, finalURL string
	if err := chromedp.Run(tabCtx,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return article.Page{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers := doc.result()
	if status >= http.StatusBadRequest {
		return article.Page{}, fmt.Errorf("request failed with status code %d", status)
	}
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	return article.Page{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) prepare(extra http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := mergeHeaders(f.cfg.Headers, extra)
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	<-f.slots
}

// documentResponse records the status and headers of the main document.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func (d *documentResponse) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != 0 {
		return
	}
	d.status = int(resp.Response.Status)
	d.headers = headers
}

func (d *documentResponse) result() (int, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.headers == nil {
		return d.status, http.Header{}
	}
	return d.status, d.headers.Clone()
}

func mergeHeaders(base, extra http.Header) network.Headers {
	out := network.Headers{}
	for _, h := range []http.Header{base, extra} {
		for key, values := range h {
			if len(values) > 0 {
				out[key] = values[len(values)-1]
			}
		}
	}
	return out
}
