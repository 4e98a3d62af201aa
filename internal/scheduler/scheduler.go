// Package scheduler fires the refresh cycle twice a day and keeps a short
// history of what each run did.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/clock/system"
	"github.com/JakeFAU/news-refresher/internal/metrics"
	"github.com/JakeFAU/news-refresher/internal/refresh"
)

const (
	// CronPattern fires at 00:00 and 12:00.
	CronPattern = "0 0,12 * * *"
	// Timezone the pattern is evaluated in.
	Timezone = "UTC"

	DefaultStartTimeout = 60 * time.Second
	StartPoll           = time.Second
	TickPingTimeout     = 5 * time.Second
	StatusPingTimeout   = 2 * time.Second
	HistoryLimit        = 10
	FailureWindow       = 24 * time.Hour
)

// SkippedMessage is recorded when a tick finds the datastore down.
const SkippedMessage = "Scheduled post fetch skipped: datastore unavailable"

// State is the scheduler lifecycle state.
type State int

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Refresher runs one refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Report, error)
}

// HistoryEntry records one scheduled or manual run.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
}

// Status is the snapshot returned by Status.
type Status struct {
	SchedulerActive   bool           `json:"schedulerActive"`
	TaskStatus        string         `json:"taskStatus"`
	State             string         `json:"state"`
	CronPattern       string         `json:"cronPattern"`
	Timezone          string         `json:"timezone"`
	CurrentTime       time.Time      `json:"currentTime"`
	NextScheduledRun  time.Time      `json:"nextScheduledRun"`
	UpcomingRuns      []time.Time    `json:"upcomingRuns"`
	LastExecution     *time.Time     `json:"lastExecution"`
	ExecutionHistory  []HistoryEntry `json:"executionHistory"`
	DatabaseConnected bool           `json:"databaseConnected"`
	ServerUptime      float64        `json:"serverUptime"`
}

// Health is the snapshot returned by Health.
type Health struct {
	Healthy           bool       `json:"healthy"`
	SchedulerRunning  bool       `json:"schedulerRunning"`
	DatabaseConnected bool       `json:"databaseConnected"`
	RecentFailures    int        `json:"recentFailures"`
	LastExecution     *time.Time `json:"lastExecution"`
	Uptime            float64    `json:"uptime"`
}

// Config tunes the scheduler.
type Config struct {
	// StartTimeout bounds the datastore wait in Start. Zero uses DefaultStartTimeout.
	StartTimeout time.Duration
}

// Scheduler owns the refresh timer and the run history.
type Scheduler struct {
	store     article.Pinger
	refresher Refresher
	clock     article.Clock
	logger    *zap.Logger
	schedule  cron.Schedule

	startTimeout time.Duration
	startPoll    time.Duration
	createdAt    time.Time

	mu            sync.Mutex
	state         State
	generation    uint64
	cron          *cron.Cron
	lastExecution *time.Time
	history       []HistoryEntry
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for history and status.
func WithClock(c article.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates the recurrence and returns a stopped Scheduler.
func New(store article.Pinger, refresher Refresher, cfg Config, opts ...Option) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("refresher is required")
	}
	schedule, err := Parse(CronPattern)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:        store,
		refresher:    refresher,
		clock:        system.New(),
		logger:       zap.NewNop(),
		schedule:     schedule,
		startTimeout: cfg.StartTimeout,
		startPoll:    StartPoll,
		history:      make([]HistoryEntry, 0, HistoryLimit),
	}
	if s.startTimeout <= 0 {
		s.startTimeout = DefaultStartTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	s.createdAt = s.clock.Now()
	return s, nil
}

// Parse validates a standard five-field cron expression evaluated in UTC.
func Parse(pattern string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard("CRON_TZ=" + Timezone + " " + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	return schedule, nil
}

// Start waits for the datastore and arms the timer. Starting a scheduler that
// is not stopped is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("scheduler already active", zap.Stringer("state", state))
		return nil
	}
	s.state = StateStarting
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("waiting for datastore before arming timer", zap.Duration("timeout", s.startTimeout))
	if err := article.WaitAvailable(ctx, s.store, s.startTimeout, s.startPoll); err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state = StateStopped
		}
		s.mu.Unlock()
		s.logger.Error("scheduler start aborted", zap.Error(err))
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != StateStarting {
		s.logger.Info("scheduler stopped while starting")
		return nil
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.logger.Sugar()})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.tick(gen) }))
	c.Start()
	s.cron = c
	s.state = StateRunning
	metrics.SetSchedulerRunning(true)

	next := s.schedule.Next(s.clock.Now())
	s.logger.Info("scheduler started",
		zap.String("cron", CronPattern),
		zap.String("timezone", Timezone),
		zap.Time("next_run", next),
	)
	return nil
}

// Stop disarms the timer. A tick already running finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		s.logger.Info("no active scheduler to stop")
		return
	}
	s.generation++
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.state = StateStopped
	metrics.SetSchedulerRunning(false)
	s.logger.Info("scheduler stopped")
}

// Restart stops and starts the scheduler.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordManual adds a manual-trigger outcome to the history.
func (s *Scheduler) RecordManual(success bool, message string) {
	s.record(success, message, false)
}

// History returns the recorded runs, newest first.
func (s *Scheduler) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Status reports the timer, datastore and history state.
func (s *Scheduler) Status(ctx context.Context) Status {
	now := s.clock.Now().UTC()
	connected := article.Available(ctx, s.store, StatusPingTimeout)

	first := s.schedule.Next(now)
	second := s.schedule.Next(first)

	s.mu.Lock()
	defer s.mu.Unlock()
	running := s.state == StateRunning
	taskStatus := "stopped"
	if running {
		taskStatus = "running"
	}
	history := make([]HistoryEntry, len(s.history))
	copy(history, s.history)
	return Status{
		SchedulerActive:   running,
		TaskStatus:        taskStatus,
		State:             s.state.String(),
		CronPattern:       CronPattern,
		Timezone:          Timezone,
		CurrentTime:       now,
		NextScheduledRun:  first,
		UpcomingRuns:      []time.Time{first, second},
		LastExecution:     copyTime(s.lastExecution),
		ExecutionHistory:  history,
		DatabaseConnected: connected,
		ServerUptime:      now.Sub(s.createdAt).Seconds(),
	}
}

// Health reports healthy when the timer is armed and the datastore answers.
func (s *Scheduler) Health(ctx context.Context) Health {
	now := s.clock.Now()
	connected := article.Available(ctx, s.store, StatusPingTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	running := s.state == StateRunning
	failures := 0
	for _, entry := range s.history {
		if !entry.Success && now.Sub(entry.Timestamp) < FailureWindow {
			failures++
		}
	}
	return Health{
		Healthy:           running && connected,
		SchedulerRunning:  running,
		DatabaseConnected: connected,
		RecentFailures:    failures,
		LastExecution:     copyTime(s.lastExecution),
		Uptime:            now.Sub(s.createdAt).Seconds(),
	}
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	current := s.state == StateRunning && s.generation == gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.runScheduled(context.Background())
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	started := s.clock.Now()
	s.logger.Info("scheduled post fetch triggered", zap.Time("at", started))

	if !article.Available(ctx, s.store, TickPingTimeout) {
		s.logger.Warn(SkippedMessage)
		s.record(false, SkippedMessage, true)
		metrics.ObserveTick("skipped")
		return
	}

	report, err := s.refresher.Refresh(ctx)
	if err != nil {
		msg := "Scheduled post fetch failed: " + err.Error()
		s.logger.Error("scheduled post fetch failed", zap.Error(err))
		s.record(false, msg, true)
		metrics.ObserveTick("failure")
		return
	}
	msg := fmt.Sprintf("Scheduled post fetch completed successfully - %d posts processed", report.Count)
	s.logger.Info("scheduled post fetch completed",
		zap.Int("saved", report.Count),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", s.clock.Now().Sub(started)),
	)
	s.record(true, msg, true)
	metrics.ObserveTick("success")
}

func (s *Scheduler) record(success bool, message string, execution bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if execution {
		s.lastExecution = &now
	}
	s.history = append([]HistoryEntry{{Timestamp: now, Success: success, Message: message}}, s.history...)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
