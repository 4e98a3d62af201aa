package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/metrics"
	"github.com/JakeFAU/news-refresher/internal/query"
	"github.com/JakeFAU/news-refresher/internal/refresh"
	"github.com/JakeFAU/news-refresher/internal/scheduler"
)

// ReadyPingTimeout bounds the datastore check behind /readyz.
const ReadyPingTimeout = 2 * time.Second

// Refresher runs a refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Report, error)
}

// Scheduler is the timer surface exposed over HTTP.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Status(ctx context.Context) scheduler.Status
	Health(ctx context.Context) scheduler.Health
	RecordManual(success bool, message string)
}

// Lister answers getPosts queries.
type Lister interface {
	List(ctx context.Context, p query.Params) (query.Page, error)
}

// Options tunes the router.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	CORSOrigins    []string
}

// Server wires HTTP handlers to the refresh pipeline, scheduler and query surface.
type Server struct {
	router    chi.Router
	refresher Refresher
	scheduler Scheduler
	lister    Lister
	store     article.Pinger
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	refresher Refresher,
	sched Scheduler,
	lister Lister,
	store article.Pinger,
	logger *zap.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RefreshTimeout < opts.RequestTimeout {
		opts.RefreshTimeout = 30 * time.Minute
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		refresher: refresher,
		scheduler: sched,
		lister:    lister,
		store:     store,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RefreshTimeout))
			r.Post("/fetchAndSave", s.fetchAndSave)
			r.Get("/refresh", s.manualRefresh)
			r.Post("/scheduler/test", s.testExecution)
			// Start waits for the datastore longer than an ordinary request.
			r.Post("/scheduler/restart", s.restartScheduler)
			r.Post("/start-scheduler", s.startScheduler)
		})
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/getPosts", s.getPosts)
			r.Get("/scheduler-status", s.schedulerStatus)
			r.Get("/scheduler/health", s.schedulerHealth)
			r.Post("/stop-scheduler", s.stopScheduler)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !article.Available(r.Context(), s.store, ReadyPingTimeout) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "datastore unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) fetchAndSave(w http.ResponseWriter, r *http.Request) {
	report, err := s.refresher.Refresh(r.Context())
	if err != nil && report.CycleID == "" {
		writeJSON(w, refresh.StatusFor(err), map[string]any{
			"success": false,
			"message": "Something went wrong",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, refresh.StatusFor(err), report)
}

func (s *Server) manualRefresh(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("manual post refresh triggered", zap.String("request_id", RequestIDFromContext(r.Context())))
	report, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.logger.Error("manual post refresh failed", zap.Error(err))
		s.scheduler.RecordManual(false, "Manual refresh failed: "+err.Error())
		writeJSON(w, refresh.StatusFor(err), map[string]any{
			"success": false,
			"message": "Manual refresh failed",
			"error":   err.Error(),
		})
		return
	}
	s.scheduler.RecordManual(true, manualSuccessMessage(report.Count))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) testExecution(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("testing scheduled execution manually")
	report, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.logger.Error("test execution failed", zap.Error(err))
		writeJSON(w, refresh.StatusFor(err), map[string]any{
			"success": false,
			"message": "Test execution failed",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test execution completed",
		"result":  report,
	})
}

func (s *Server) getPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.lister.List(r.Context(), query.ParamsFromQuery(r.URL.Query()))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, article.ErrDatastoreUnavailable) || !article.Available(r.Context(), s.store, ReadyPingTimeout) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("list posts failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{"message": "Failed to fetch posts"})
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status(r.Context()))
}

func (s *Server) schedulerHealth(w http.ResponseWriter, r *http.Request) {
	health := s.scheduler.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) restartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Restart(r.Context()); err != nil {
		s.logger.Error("failed to restart scheduler", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to restart scheduler",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Scheduler restarted successfully",
	})
}

func (s *Server) stopScheduler(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduler stopped"})
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Start(r.Context()); err != nil {
		s.logger.Error("failed to start scheduler", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduler started"})
}

func manualSuccessMessage(count int) string {
	return fmt.Sprintf("Manual refresh completed - %d posts processed", count)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
