package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/enrich"
	"github.com/JakeFAU/news-refresher/internal/newsapi"
	pubmemory "github.com/JakeFAU/news-refresher/internal/publisher/memory"
	"github.com/JakeFAU/news-refresher/internal/storage/memory"
)

type fakeSource struct {
	articles []article.RawArticle
	err      error
	calls    atomic.Int32
	started  chan struct{}
	release  chan struct{}
}

func (s *fakeSource) FetchArticles(context.Context) ([]article.RawArticle, error) {
	s.calls.Add(1)
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return s.articles, s.err
}

type passthroughEnricher struct{}

func (passthroughEnricher) Enrich(_ context.Context, raw article.RawArticle) article.Record {
	title := raw.Title
	if title == "" {
		title = article.DefaultTitle
	}
	return article.Record{
		Title:       title,
		Description: raw.Description,
		Content:     raw.Content,
		URL:         raw.URL,
		PublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Author:      article.DefaultAuthor,
		Source:      article.Source{Name: article.DefaultSourceName},
	}
}

type flakyInsertStore struct {
	*memory.ArticleStore
	failures int32
	inserts  atomic.Int32
}

func (s *flakyInsertStore) Insert(ctx context.Context, r *article.Record) error {
	if s.inserts.Add(1) <= s.failures {
		return errors.New("write conflict")
	}
	return s.ArticleStore.Insert(ctx, r)
}

type fixedIDs struct{ n atomic.Int32 }

func (g *fixedIDs) NewID() (string, error) {
	g.n.Add(1)
	return "cycle-fixed", nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestOrchestrator(t *testing.T, store article.Store, source article.NewsSource, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(store, source, passthroughEnricher{}, opts...)
	require.NoError(t, err)
	o.sleep = noSleep
	o.availabilityTimeout = 30 * time.Millisecond
	o.availabilityPoll = 5 * time.Millisecond
	return o
}

func raws(urls ...string) []article.RawArticle {
	out := make([]article.RawArticle, 0, len(urls))
	for _, u := range urls {
		out = append(out, article.RawArticle{Title: "Title " + u, URL: u, Content: "body"})
	}
	return out
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeSource{}, passthroughEnricher{})
	require.Error(t, err)
	_, err = New(memory.NewArticleStore(), &fakeSource{}, nil)
	require.Error(t, err)
}

func TestRefresh_SavesBatchAndPublishes(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore()
	old := article.Record{URL: "https://old.example.com/a", Title: "old"}
	require.NoError(t, store.Insert(context.Background(), &old))

	pub := pubmemory.New()
	source := &fakeSource{articles: raws("https://n.example.com/1", "https://n.example.com/2")}
	o := newTestOrchestrator(t, store, source, WithPublisher(pub, ""), WithIDGenerator(&fixedIDs{}))

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, "cycle-fixed", report.CycleID)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 2, report.Count)
	require.Zero(t, report.Failed)
	require.Empty(t, report.FailedPosts)
	require.Len(t, report.Posts, 2)
	for _, p := range report.Posts {
		require.NotEmpty(t, p.ID)
	}
	require.Contains(t, report.Message, "Successfully processed 2 articles in")
	require.False(t, report.Timestamp.IsZero())

	n, err := store.Count(context.Background(), article.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DefaultTopic, msgs[0].Topic)
	ev, ok := msgs[0].Payload.(Event)
	require.True(t, ok)
	require.Equal(t, "cycle-fixed", ev.CycleID)
	require.True(t, ev.Success)
	require.Equal(t, 2, ev.Count)
}

func TestRefresh_MissingSource(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, memory.NewArticleStore(), nil)
	report, err := o.Refresh(context.Background())
	require.ErrorIs(t, err, ErrMissingAPIConfig)
	require.False(t, report.Success)
	require.Equal(t, ErrMissingAPIConfig.Error(), report.Message)
	require.Equal(t, http.StatusBadRequest, StatusFor(err))
}

func TestRefresh_DatastoreUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore()
	store.SetAvailable(false)
	source := &fakeSource{articles: raws("https://n.example.com/1")}
	o := newTestOrchestrator(t, store, source)

	report, err := o.Refresh(context.Background())
	require.ErrorIs(t, err, article.ErrDatastoreUnavailable)
	require.False(t, report.Success)
	require.Equal(t, "Something went wrong", report.Message)
	require.NotEmpty(t, report.Error)
	require.Zero(t, source.calls.Load())
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(err))
}

func TestRefresh_EmptyBatch(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, memory.NewArticleStore(), &fakeSource{})
	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, EmptyBatchMessage, report.Message)
	require.Zero(t, report.Count)
	require.NotNil(t, report.Posts)
}

func TestRefresh_UpstreamFailure(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, memory.NewArticleStore(), &fakeSource{err: errors.New("request failed with status code 502")})
	report, err := o.Refresh(context.Background())
	require.ErrorIs(t, err, ErrUpstreamFetch)
	require.Contains(t, report.Error, "status code 502")
	require.Equal(t, http.StatusInternalServerError, StatusFor(err))
}

func TestRefresh_DuplicateIsNotRetried(t *testing.T) {
	t.Parallel()

	store := &flakyInsertStore{ArticleStore: memory.NewArticleStore()}
	source := &fakeSource{articles: raws("https://n.example.com/1", "https://n.example.com/1")}
	o := newTestOrchestrator(t, store, source)

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 1, report.Count)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, "Title https://n.example.com/1", report.FailedPosts[0].Title)
	require.Equal(t, article.ErrDuplicateURL.Error(), report.FailedPosts[0].Error)
	require.EqualValues(t, 2, store.inserts.Load())
}

func TestRefresh_SaveRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	store := &flakyInsertStore{ArticleStore: memory.NewArticleStore(), failures: 2}
	o := newTestOrchestrator(t, store, &fakeSource{articles: raws("https://n.example.com/1")})

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Count)
	require.EqualValues(t, 3, store.inserts.Load())
}

func TestRefresh_SaveGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	store := &flakyInsertStore{ArticleStore: memory.NewArticleStore(), failures: 100}
	o := newTestOrchestrator(t, store, &fakeSource{articles: raws("https://n.example.com/1", "https://n.example.com/2")})

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Zero(t, report.Count)
	require.Equal(t, 2, report.Failed)
	require.EqualValues(t, 2*SaveAttempts, store.inserts.Load())
}

func TestRefresh_ConcurrentCallersShareCycle(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		articles: raws("https://n.example.com/1"),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	ids := &fixedIDs{}
	o := newTestOrchestrator(t, memory.NewArticleStore(), source, WithIDGenerator(ids))

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = o.Refresh(context.Background())
	}()
	<-source.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = o.Refresh(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(source.release)
	wg.Wait()

	require.EqualValues(t, 1, source.calls.Load())
	require.EqualValues(t, 1, ids.n.Load())
	require.Equal(t, reports[0], reports[1])
}

func TestRefresh_CallerCancellationDoesNotAbortCycle(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore()
	source := &fakeSource{
		articles: raws("https://n.example.com/1"),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	o := newTestOrchestrator(t, store, source)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := o.Refresh(ctx)
		errCh <- err
	}()
	<-source.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(source.release)
	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background(), article.Filter{})
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusOK, StatusFor(nil))
	require.Equal(t, http.StatusBadRequest, StatusFor(ErrMissingAPIConfig))
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(article.ErrDatastoreUnavailable))
	require.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

type stuckClearStore struct {
	*memory.ArticleStore
	deletes atomic.Int32
}

func (s *stuckClearStore) DeleteAll(context.Context) (int64, error) {
	s.deletes.Add(1)
	return 0, errors.New("lock timeout")
}

func TestRefresh_ClearRetriesThenContinues(t *testing.T) {
	t.Parallel()

	store := &stuckClearStore{ArticleStore: memory.NewArticleStore()}
	old := article.Record{URL: "https://old.example.com/a", Title: "old"}
	require.NoError(t, store.Insert(context.Background(), &old))

	var mu sync.Mutex
	var waits []time.Duration
	o := newTestOrchestrator(t, store, &fakeSource{articles: raws("https://n.example.com/1", "https://n.example.com/2")})
	o.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.EqualValues(t, ClearAttempts, store.deletes.Load())
	require.Equal(t, []time.Duration{ClearBackoff, ClearBackoff}, waits)
	require.Equal(t, 2, report.Count)

	n, err := store.Count(context.Background(), article.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

// flickerStore fails exactly one Ping, counted from the first call.
type flickerStore struct {
	*memory.ArticleStore
	failOn int32
	pings  atomic.Int32
}

func (s *flickerStore) Ping(ctx context.Context) error {
	if s.pings.Add(1) == s.failOn {
		return article.ErrDatastoreUnavailable
	}
	return s.ArticleStore.Ping(ctx)
}

func TestRefresh_ItemFailsWhenDatastoreDropsMidCycle(t *testing.T) {
	t.Parallel()

	// Ping 1 is the availability wait; ping 3 guards the second item.
	store := &flickerStore{ArticleStore: memory.NewArticleStore(), failOn: 3}
	source := &fakeSource{articles: raws("https://n.example.com/1", "https://n.example.com/2", "https://n.example.com/3")}
	o := newTestOrchestrator(t, store, source)

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 3, report.Total)
	require.Equal(t, 2, report.Count)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, []FailedPost{{Title: "Title https://n.example.com/2", Error: "datastore unavailable"}}, report.FailedPosts)
	require.Equal(t, "https://n.example.com/1", report.Posts[0].URL)
	require.Equal(t, "https://n.example.com/3", report.Posts[1].URL)
	require.EqualValues(t, 4, store.pings.Load())
}

type fixedBody struct{}

func (fixedBody) FetchFullContent(context.Context, string) article.ContentResult {
	return article.ContentResult{Text: "recovered body"}
}

type stoppedClock struct{ t time.Time }

func (c stoppedClock) Now() time.Time { return c.t }

func TestRefresh_BadPublishedAtDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"articles": [
			{"title": "No date", "url": "https://n.example.com/1", "publishedAt": ""},
			{"title": "Garbled date", "url": "https://n.example.com/2", "publishedAt": "not a date"},
			{"title": "Dated", "url": "https://n.example.com/3", "publishedAt": "2024-05-01T12:00:00Z"}
		]}`))
	}))
	defer api.Close()

	source, err := newsapi.New(api.URL)
	require.NoError(t, err)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	enricher := enrich.New(fixedBody{}, enrich.WithSleep(noSleep), enrich.WithClock(stoppedClock{t: now}))

	o, err := New(memory.NewArticleStore(), source, enricher)
	require.NoError(t, err)
	o.sleep = noSleep

	report, err := o.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 3, report.Count)
	require.Zero(t, report.Failed)
	require.Equal(t, now, report.Posts[0].PublishedAt)
	require.Equal(t, now, report.Posts[1].PublishedAt)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), report.Posts[2].PublishedAt)
}
