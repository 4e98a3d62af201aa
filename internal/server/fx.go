// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/api"
	"github.com/JakeFAU/news-refresher/internal/archive"
	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/clock/system"
	"github.com/JakeFAU/news-refresher/internal/config"
	"github.com/JakeFAU/news-refresher/internal/content"
	"github.com/JakeFAU/news-refresher/internal/enrich"
	"github.com/JakeFAU/news-refresher/internal/extract"
	collyfetcher "github.com/JakeFAU/news-refresher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/news-refresher/internal/fetcher/headless"
	"github.com/JakeFAU/news-refresher/internal/hash/sha256"
	"github.com/JakeFAU/news-refresher/internal/headless/detector"
	"github.com/JakeFAU/news-refresher/internal/id/uuid"
	"github.com/JakeFAU/news-refresher/internal/logging"
	"github.com/JakeFAU/news-refresher/internal/metrics"
	"github.com/JakeFAU/news-refresher/internal/newsapi"
	"github.com/JakeFAU/news-refresher/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/news-refresher/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/news-refresher/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/news-refresher/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/news-refresher/internal/publisher/pubsub"
	"github.com/JakeFAU/news-refresher/internal/query"
	"github.com/JakeFAU/news-refresher/internal/refresh"
	"github.com/JakeFAU/news-refresher/internal/scheduler"
	gcsstorage "github.com/JakeFAU/news-refresher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/news-refresher/internal/storage/local"
	memorystorage "github.com/JakeFAU/news-refresher/internal/storage/memory"
	mongostore "github.com/JakeFAU/news-refresher/internal/storage/mongo"
	pgstore "github.com/JakeFAU/news-refresher/internal/storage/postgres"
	"github.com/JakeFAU/news-refresher/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        article.Store
	orchestrator *refresh.Orchestrator
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
	closers      []func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
	)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: logging.Service,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer provider init failed: %w", err)
		}
		app.onClose(tp.Shutdown)
		logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Tracing.SampleRatio))
	}

	if err := app.setupStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	fetcher, err := app.setupContentFetcher(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	var source article.NewsSource
	if cfg.News.APIURL != "" {
		source, err = newsapi.New(cfg.News.APIURL)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("news api client init failed: %w", err)
		}
	} else {
		logger.Warn("news api url not configured; refresh cycles will fail until it is set")
	}

	enricher := enrich.New(fetcher, enrich.WithLogger(logger))
	opts := []refresh.Option{refresh.WithLogger(logger), refresh.WithIDGenerator(uuid.New())}
	if publisher != nil {
		opts = append(opts, refresh.WithPublisher(publisher, cfg.Publisher.Topic))
	}
	app.orchestrator, err = refresh.New(app.store, source, enricher, opts...)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("refresh orchestrator init failed: %w", err)
	}

	app.scheduler, err = scheduler.New(app.store, app.orchestrator, scheduler.Config{
		StartTimeout: time.Duration(cfg.Scheduler.StartTimeoutSeconds) * time.Second,
	}, scheduler.WithLogger(logger))
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		app.orchestrator,
		app.scheduler,
		query.New(app.store, logger),
		app.store,
		logger,
		api.Options{
			APIKey:         apiKey,
			RequestTimeout: cfg.RequestTimeout(),
			RefreshTimeout: cfg.RefreshTimeout(),
			CORSOrigins:    cfg.Server.CORSOrigins,
		},
	)
	return app, nil
}

// Run serves HTTP and, when enabled, the scheduler until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if a.cfg.Scheduler.Enabled {
		go func() {
			if err := a.scheduler.Start(ctx); err != nil {
				a.logger.Error("scheduler did not start; use /api/start-scheduler to retry", zap.Error(err))
			}
		}()
	} else {
		a.logger.Info("scheduler disabled by configuration")
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	return nil
}

// RefreshOnce runs a single refresh cycle.
func (a *App) RefreshOnce(ctx context.Context) (refresh.Report, error) {
	return a.orchestrator.Refresh(ctx)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases every resource Build acquired.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) setupStore(ctx context.Context) error {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "postgres":
		store, err := pgstore.NewArticleStore(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
			Migrate:         cfg.Migrate,
		})
		if err != nil {
			return fmt.Errorf("postgres article store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres article store", zap.String("table", cfg.Postgres.Table))
	case "mongo":
		store, err := mongostore.NewArticleStore(ctx, mongostore.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Migrate:    cfg.Migrate,
		})
		if err != nil {
			return fmt.Errorf("mongo article store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using mongo article store",
			zap.String("database", cfg.Mongo.Database),
			zap.String("collection", cfg.Mongo.Collection),
		)
	default:
		a.store = memorystorage.NewArticleStore()
		a.logger.Warn("using in-memory article store; data is lost on restart")
	}
	a.onClose(a.store.Close)
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (article.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages to local disk", zap.String("path", cfg.LocalDir))
		return store, nil
	case "memory":
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupContentFetcher(ctx context.Context) (*content.Service, error) {
	cfg := a.cfg
	extractor, err := a.newExtractor()
	if err != nil {
		return nil, err
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
	})
	opts := []content.Option{
		content.WithLogger(a.logger),
		content.WithLimiter(ratelimit.New(ratelimit.Config{
			RatePerHost: cfg.Fetcher.RatePerHost,
			Burst:       cfg.Fetcher.Burst,
		})),
	}

	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			Headers:           collyfetcher.BrowserHeaders(),
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.onClose(func(context.Context) error { hf.Close(); return nil })
		opts = append(opts, content.WithHeadless(hf, detector.NewHeuristic(cfg.Headless.PromotionThresh)))
		a.logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		archiver, err := archive.New(blobs, sha256.New(), system.New(), cfg.Archive.Prefix)
		if err != nil {
			return nil, fmt.Errorf("page archiver init failed: %w", err)
		}
		opts = append(opts, content.WithArchiver(archiver))
	}

	svc, err := content.New(probe, extractor, opts...)
	if err != nil {
		return nil, fmt.Errorf("content fetcher init failed: %w", err)
	}
	return svc, nil
}

// newExtractor builds the extraction engine. Rules from extraction.rules_file
// are tried after the built-in publisher rules.
func (a *App) newExtractor() (*extract.Engine, error) {
	cfg := a.cfg.Extraction
	rules := extract.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := extract.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("extraction rules load failed: %w", err)
		}
		rules = append(rules, loaded...)
		a.logger.Info("loaded extraction rules", zap.String("path", cfg.RulesFile), zap.Int("rules", len(loaded)))
	}
	return extract.New(extract.Config{Rules: rules, Readability: cfg.Readability}, a.logger), nil
}

func (a *App) setupPublisher(ctx context.Context) (article.Publisher, error) {
	cfg := a.cfg.Publisher
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		pub, err := gcppublisher.NewForTopic(ctx, client, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { pub.Stop(); return nil })
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicID),
		)
		return pub, nil
	case "nats":
		pub, err := natspublisher.Connect(natspublisher.Config{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.onClose(func(context.Context) error { pub.Close(); return nil })
		a.logger.Info("NATS publisher initialized", zap.String("url", cfg.NATS.URL))
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		a.logger.Info("Kafka publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		return pub, nil
	case "memory":
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("cycle event publishing disabled")
		return nil, nil
	}
}
