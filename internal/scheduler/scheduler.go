package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/schedule"
	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/infrastructure/observability"
	"github.com/kitwatch/notifier/internal/service"
)

// Cron specs, evaluated in the configured location.
const (
	DemoSpec   = "0 0 */30 * *"
	ReportSpec = "0 8 * * *"
	TimedSpec  = "* * * * *"
)

const defaultRecipientPacing = time.Second

// DefaultRetryOffsets are the coarse retry tiers, measured from the failure.
var DefaultRetryOffsets = []time.Duration{15 * time.Minute, 60 * time.Minute, 180 * time.Minute}

// Sender is the part of the notification service the scheduler drives.
type Sender interface {
	SendNotification(ctx context.Context, msg notification.Message) (*service.SendResult, error)
	TrySend(ctx context.Context, msg notification.Message) (*service.SendResult, error)
}

// ReportBuilder renders the inventory report.
type ReportBuilder interface {
	BuildReport(ctx context.Context, now time.Time) (*service.Report, error)
}

type Config struct {
	Location         *time.Location
	ReportRecipients []string
	DemoJobs         bool
}

type stopper interface {
	Stop() bool
}

// Scheduler owns the cron ticks, the persisted job state and the coarse
// retry timers.
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	sender   Sender
	reports  ReportBuilder
	settings settings.Repository
	state    schedule.StateRepository
	events   schedule.EventLogger
	metrics  *observability.Metrics
	logger   zerolog.Logger

	now          func() time.Time
	afterFunc    func(d time.Duration, f func()) stopper
	pacing       time.Duration
	retryOffsets []time.Duration
	newSeriesID  func() string
	runCtx       context.Context

	mu         sync.Mutex
	pending    map[string]schedule.PendingRetry
	timers     map[string]stopper
	started    bool
	stopped    bool
	registered bool
	stopping   context.Context
	stopCancel context.CancelFunc
}

type Option func(*Scheduler)

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRecipientPacing sets the gap between sends of the timed job.
func WithRecipientPacing(d time.Duration) Option {
	return func(s *Scheduler) { s.pacing = d }
}

func WithRetryOffsets(offsets ...time.Duration) Option {
	return func(s *Scheduler) { s.retryOffsets = offsets }
}

func New(
	cfg Config,
	sender Sender,
	reports ReportBuilder,
	settingsRepo settings.Repository,
	state schedule.StateRepository,
	events schedule.EventLogger,
	logger zerolog.Logger,
	opts ...Option,
) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger = observability.Component(logger, "scheduler")

	s := &Scheduler{
		cfg:      cfg,
		sender:   sender,
		reports:  reports,
		settings: settingsRepo,
		state:    state,
		events:   events,
		logger:   logger,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		pacing:       defaultRecipientPacing,
		retryOffsets: DefaultRetryOffsets,
		newSeriesID:  newID,
		runCtx:       context.Background(),
		stopping:     context.Background(),
		stopCancel:   func() {},
		pending:      make(map[string]schedule.PendingRetry),
		timers:       make(map[string]stopper),
	}
	for _, o := range opts {
		o(s)
	}

	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{logger})),
		cron.WithLogger(cronLogger{logger}),
	)
	return s
}

// Start registers the jobs on first use, re-arms persisted retries and
// starts ticking. Retries whose fire time already passed run immediately.
// A stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	if !s.registered {
		if err := s.registerJobs(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.registered = true
	}
	s.started = true
	s.stopped = false
	s.runCtx = context.WithoutCancel(ctx)
	s.stopping, s.stopCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.restoreRetries(); err != nil {
		// Not fatal: the next failure arms a new series.
		s.logger.Error().Err(err).Msg("Failed to restore pending retries")
	}

	s.cron.Start()
	s.logger.Info().
		Str("timezone", s.cfg.Location.String()).
		Int("report_recipients", len(s.cfg.ReportRecipients)).
		Bool("demo_jobs", s.cfg.DemoJobs).
		Msg("Scheduler started")
	return nil
}

func (s *Scheduler) registerJobs() error {
	if s.cfg.DemoJobs {
		if _, err := s.cron.AddFunc(DemoSpec, s.runDemo); err != nil {
			return fmt.Errorf("register demo job: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(ReportSpec, func() { s.runReport(s.runCtx, false) }); err != nil {
		return fmt.Errorf("register report job: %w", err)
	}
	if _, err := s.cron.AddFunc(TimedSpec, func() { s.runTimed(s.runCtx) }); err != nil {
		return fmt.Errorf("register timed job: %w", err)
	}
	return nil
}

// Stop halts the ticks and disarms retry timers, then waits for running
// jobs until ctx is done. A timed fan-out in progress stops pacing and
// defers its remaining recipients to persisted retries. Pending retries
// stay persisted for the next Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.stopped = true
	s.stopCancel()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) stopSignal() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the persisted job state.
func (s *Scheduler) State() (*schedule.State, error) {
	return s.state.Load()
}

func (s *Scheduler) runDemo() {
	now := s.now().In(s.cfg.Location)
	s.logger.Info().Str("job", schedule.JobDemo).Time("at", now).Msg("Demo job fired")
	s.record(schedule.JobDemo, schedule.StatusSent, nil)
}

// record logs the event line and counts the run.
func (s *Scheduler) record(job, status string, ctx map[string]any) {
	if s.events != nil {
		s.events.Append(schedule.Event{Type: job, Status: status, Context: ctx})
	}
	if s.metrics != nil {
		s.metrics.SchedulerRuns.WithLabelValues(job, status).Inc()
	}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
