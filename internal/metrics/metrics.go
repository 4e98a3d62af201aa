// Package metrics exposes Prometheus collectors for the refresh service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	articlesTotal              *prometheus.CounterVec
	scrapesTotal               *prometheus.CounterVec
	scrapeBytesTotal           *prometheus.CounterVec
	saveRetriesTotal           prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	schedulerTicksTotal        *prometheus.CounterVec
	schedulerRunning           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsrefresher_cycles_total",
				Help: "Total number of refresh cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsrefresher_cycle_duration_seconds",
				Help:    "Histogram of refresh cycle wall-clock durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsrefresher_articles_total",
				Help: "Total number of articles processed, labeled by result.",
			},
			[]string{"result"},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsrefresher_scrapes_total",
				Help: "Total number of article page fetches, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		scrapeBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsrefresher_scrape_bytes_total",
				Help: "Total number of article page bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		saveRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsrefresher_save_retries_total",
				Help: "Total number of article save attempts that were retried.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsrefresher_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host download token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		schedulerTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsrefresher_scheduler_ticks_total",
				Help: "Total number of scheduler ticks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		schedulerRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsrefresher_scheduler_running",
				Help: "1 when the refresh timer is armed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a finished refresh cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveArticle counts one per-item outcome ("saved" or "failed").
func ObserveArticle(result string) {
	Init()
	articlesTotal.WithLabelValues(result).Inc()
}

// ObserveScrape increments the page fetch metrics.
func ObserveScrape(site string, result string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scrapesTotal.WithLabelValues(sanitizedSite, result).Inc()
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveSaveRetry counts a save attempt that will be retried.
func ObserveSaveRetry() {
	Init()
	saveRetriesTotal.Inc()
}

// ObserveRateLimitDelay records time spent throttled before fetching from site.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// ObserveTick counts a scheduler tick ("success", "failure" or "skipped").
func ObserveTick(outcome string) {
	Init()
	schedulerTicksTotal.WithLabelValues(outcome).Inc()
}

// SetSchedulerRunning updates the scheduler gauge.
func SetSchedulerRunning(running bool) {
	Init()
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
