// Package refresh runs one refresh cycle: clear the corpus, fetch a batch from
// the news API, enrich each article, and save it.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/clock/system"
	"github.com/JakeFAU/news-refresher/internal/id/uuid"
	"github.com/JakeFAU/news-refresher/internal/metrics"
	"github.com/JakeFAU/news-refresher/internal/retry"
)

// Fixed cycle timings.
const (
	AvailabilityTimeout = 30 * time.Second
	AvailabilityPoll    = time.Second
	ItemPingTimeout     = 2 * time.Second
	ClearAttempts       = 3
	ClearBackoff        = 2 * time.Second
	SaveAttempts        = 3
	SaveBackoff         = time.Second
	SaveAttemptTimeout  = 15 * time.Second
	PublishTimeout      = 10 * time.Second
)

var tracer = otel.Tracer("github.com/JakeFAU/news-refresher/internal/refresh")

// DefaultTopic is the event name cycle reports are published under.
const DefaultTopic = "refresh.cycle"

// EmptyBatchMessage is reported when the news API returns no articles.
const EmptyBatchMessage = "No posts found from API"

var (
	// ErrMissingAPIConfig is returned when no news API endpoint is configured.
	ErrMissingAPIConfig = errors.New("News API URL not defined in environment variables")
	// ErrUpstreamFetch wraps failures calling the news API.
	ErrUpstreamFetch = errors.New("news api fetch failed")
)

// Enricher converts a raw summary into a record.
type Enricher interface {
	Enrich(ctx context.Context, raw article.RawArticle) article.Record
}

// FailedPost names an article that could not be saved.
type FailedPost struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// Report is the outcome of one cycle.
type Report struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	CycleID       string           `json:"cycleId"`
	Total         int              `json:"total"`
	Count         int              `json:"count"`
	Failed        int              `json:"failed"`
	FailedPosts   []FailedPost     `json:"failedPosts"`
	Posts         []article.Record `json:"posts"`
	ExecutionTime int64            `json:"executionTime"`
	Timestamp     time.Time        `json:"timestamp"`
	Error         string           `json:"error,omitempty"`
}

// Event is the summary published for every finished cycle.
type Event struct {
	CycleID         string    `json:"cycle_id"`
	Success         bool      `json:"success"`
	Count           int       `json:"count"`
	Failed          int       `json:"failed"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// StatusFor maps a Refresh error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingAPIConfig):
		return http.StatusBadRequest
	case errors.Is(err, article.ErrDatastoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Orchestrator runs refresh cycles. Concurrent Refresh calls share one
// in-flight cycle.
type Orchestrator struct {
	store     article.Store
	source    article.NewsSource
	enricher  Enricher
	publisher article.Publisher
	topic     string
	ids       article.IDGenerator
	clock     article.Clock
	logger    *zap.Logger

	availabilityTimeout time.Duration
	availabilityPoll    time.Duration
	sleep               func(ctx context.Context, d time.Duration) error

	group singleflight.Group
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher publishes an Event for every cycle on topic.
func WithPublisher(p article.Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.publisher = p
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithIDGenerator sets the cycle id generator.
func WithIDGenerator(g article.IDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithClock sets the clock used for report timestamps.
func WithClock(c article.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an Orchestrator. source may be nil, in which case every cycle
// fails with ErrMissingAPIConfig.
func New(store article.Store, source article.NewsSource, enricher Enricher, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("article store is required")
	}
	if enricher == nil {
		return nil, errors.New("enricher is required")
	}
	o := &Orchestrator{
		store:               store,
		source:              source,
		enricher:            enricher,
		topic:               DefaultTopic,
		ids:                 uuid.New(),
		clock:               system.New(),
		logger:              zap.NewNop(),
		availabilityTimeout: AvailabilityTimeout,
		availabilityPoll:    AvailabilityPoll,
		sleep:               retry.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("refresh")
	return o, nil
}

// Refresh runs a cycle, or joins the one already running. The cycle itself is
// detached from ctx; cancelling ctx only stops the caller from waiting.
func (o *Orchestrator) Refresh(ctx context.Context) (Report, error) {
	ch := o.group.DoChan("cycle", func() (any, error) {
		return o.run(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		report, _ := res.Val.(Report)
		if res.Shared {
			o.logger.Debug("joined in-flight refresh", zap.String("cycle_id", report.CycleID))
		}
		return report, res.Err
	case <-ctx.Done():
		return Report{}, fmt.Errorf("waiting for refresh: %w", ctx.Err())
	}
}

func (o *Orchestrator) run(ctx context.Context) (Report, error) {
	start := o.clock.Now()
	cycleID, err := o.ids.NewID()
	if err != nil {
		cycleID = fmt.Sprintf("cycle-%d", start.UnixNano())
	}
	log := o.logger.With(zap.String("cycle_id", cycleID))
	log.Info("refresh cycle started", zap.Time("started_at", start))

	ctx, span := tracer.Start(ctx, "refresh.cycle", trace.WithAttributes(attribute.String("refresh.cycle_id", cycleID)))
	defer span.End()

	report := Report{
		CycleID:     cycleID,
		FailedPosts: []FailedPost{},
		Posts:       []article.Record{},
	}
	runErr := o.cycle(ctx, log, &report)

	end := o.clock.Now()
	elapsed := end.Sub(start)
	report.ExecutionTime = elapsed.Milliseconds()
	report.Timestamp = end

	outcome := "success"
	switch {
	case runErr != nil:
		outcome = "failure"
		report.Success = false
		report.Error = runErr.Error()
		if errors.Is(runErr, ErrMissingAPIConfig) {
			report.Message = runErr.Error()
		} else {
			report.Message = "Something went wrong"
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, report.Message)
		log.Error("refresh cycle failed", zap.Duration("elapsed", elapsed), zap.Error(runErr))
	case report.Total == 0:
		outcome = "empty"
		report.Success = true
		report.Message = EmptyBatchMessage
		log.Warn(EmptyBatchMessage)
	default:
		report.Success = true
		report.Message = fmt.Sprintf("Successfully processed %d articles in %dms", report.Count, report.ExecutionTime)
		log.Info("refresh cycle finished",
			zap.Int("total", report.Total),
			zap.Int("saved", report.Count),
			zap.Int("failed", report.Failed),
			zap.Duration("elapsed", elapsed),
		)
	}
	span.SetAttributes(
		attribute.String("refresh.outcome", outcome),
		attribute.Int("refresh.total", report.Total),
		attribute.Int("refresh.saved", report.Count),
		attribute.Int("refresh.failed", report.Failed),
	)
	metrics.ObserveCycle(outcome, elapsed)
	o.publish(ctx, log, report)
	return report, runErr
}

func (o *Orchestrator) cycle(ctx context.Context, log *zap.Logger, report *Report) error {
	if o.source == nil {
		return ErrMissingAPIConfig
	}
	if err := article.WaitAvailable(ctx, o.store, o.availabilityTimeout, o.availabilityPoll); err != nil {
		return err
	}

	o.clear(ctx, log)

	raws, err := o.source.FetchArticles(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	report.Total = len(raws)
	log.Info("articles fetched", zap.Int("count", len(raws)))

	for i, raw := range raws {
		o.processItem(ctx, log.With(zap.Int("item", i+1), zap.Int("of", len(raws))), raw, report)
	}
	return nil
}

// clear deletes the corpus. Exhausted retries are logged and the cycle goes on.
func (o *Orchestrator) clear(ctx context.Context, log *zap.Logger) {
	var deleted int64
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: ClearAttempts,
		Backoff:     retry.Constant(ClearBackoff),
		Sleep:       o.sleep,
		OnRetry: func(attempt int, err error) {
			log.Warn("clearing old posts failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(ctx context.Context) error {
		n, err := o.store.DeleteAll(ctx)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		log.Error("clearing old posts failed, continuing", zap.Error(err))
		return
	}
	log.Info("old posts removed", zap.Int64("deleted", deleted))
}

func (o *Orchestrator) processItem(ctx context.Context, log *zap.Logger, raw article.RawArticle, report *Report) {
	ctx, span := tracer.Start(ctx, "refresh.item", trace.WithAttributes(attribute.String("article.url", raw.URL)))
	defer span.End()

	title := raw.Title
	if title == "" {
		title = article.DefaultTitle
	}
	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "article not saved")
		report.Failed++
		report.FailedPosts = append(report.FailedPosts, FailedPost{Title: title, Error: err.Error()})
		metrics.ObserveArticle("failed")
		log.Warn("article not saved", zap.String("title", title), zap.String("url", raw.URL), zap.Error(err))
	}

	if !article.Available(ctx, o.store, ItemPingTimeout) {
		fail(article.ErrDatastoreUnavailable)
		return
	}

	rec := o.enricher.Enrich(ctx, raw)
	title = rec.Title

	var saved atomic.Pointer[article.Record]
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts:    SaveAttempts,
		Backoff:        retry.Constant(SaveBackoff),
		AttemptTimeout: SaveAttemptTimeout,
		Sleep:          o.sleep,
		Retryable: func(err error) bool {
			return !errors.Is(err, article.ErrDuplicateURL)
		},
		OnRetry: func(attempt int, err error) {
			metrics.ObserveSaveRetry()
			log.Warn("saving post failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(ctx context.Context) error {
		r := rec
		if err := o.store.Insert(ctx, &r); err != nil {
			return err
		}
		saved.Store(&r)
		return nil
	})
	if err != nil {
		fail(err)
		return
	}
	report.Count++
	report.Posts = append(report.Posts, *saved.Load())
	metrics.ObserveArticle("saved")
	log.Debug("post saved", zap.String("title", title))
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, report Report) {
	if o.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	id, err := o.publisher.Publish(pubCtx, o.topic, Event{
		CycleID:         report.CycleID,
		Success:         report.Success,
		Count:           report.Count,
		Failed:          report.Failed,
		ExecutionTimeMs: report.ExecutionTime,
		Timestamp:       report.Timestamp,
		Error:           report.Error,
	})
	if err != nil {
		log.Warn("publish cycle event failed", zap.Error(err))
		return
	}
	log.Debug("cycle event published", zap.String("message_id", id))
}
