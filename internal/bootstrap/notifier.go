package bootstrap

import (
	"fmt"

	"github.com/kitwatch/notifier/internal/infrastructure/filestore"
	"github.com/kitwatch/notifier/internal/infrastructure/providers"
	"github.com/kitwatch/notifier/internal/repository/postgres"
	"github.com/kitwatch/notifier/internal/scheduler"
	"github.com/kitwatch/notifier/internal/service"
	"github.com/kitwatch/notifier/pkg/retry"
)

// Notifier is the mail subsystem wired from configuration.
type Notifier struct {
	Notifications *service.NotificationService
	Settings      *service.SettingsService
	Reports       *service.ReportService
	Scheduler     *scheduler.Scheduler
}

// BuildNotifier selects the provider once and assembles the services and
// the scheduler on top of it. The scheduler is built but not started.
func (a *App) BuildNotifier() (*Notifier, error) {
	cfg := a.Config

	provider, err := providers.NewFromConfig(&cfg.Mail, a.Logger, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("select email provider: %w", err)
	}

	outboxStore := filestore.NewOutboxStore(cfg.Mail.OutboxPath, a.Logger,
		filestore.WithSizeObserver(func(n int) { a.Metrics.OutboxSize.Set(float64(n)) }))

	retryCfg := retry.Config{
		MaxRetries: uint(cfg.Mail.MaxRetries),
		BaseDelay:  cfg.Mail.RetryBaseDelay,
		MaxDelay:   cfg.Mail.RetryMaxDelay,
		Logger:     a.Logger,
	}

	notifications := service.NewNotificationService(
		provider,
		outboxStore,
		cfg.Mail.NotificationSettings(),
		retryCfg,
		a.Logger,
		service.WithMetrics(a.Metrics),
	)
	if !cfg.Mail.HasCredential() || cfg.Mail.SenderEmail == "" {
		a.Logger.Warn().Msg("Mail is not fully configured, sends will be rejected")
	}

	settingsRepo := postgres.NewSettingsRepository(a.Pool)
	materials := postgres.NewMaterialRepository(a.Pool)
	reports := service.NewReportService(materials, a.Logger)

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	sched := scheduler.New(
		scheduler.Config{
			Location:         loc,
			ReportRecipients: cfg.Scheduler.ReportRecipients,
			DemoJobs:         cfg.Scheduler.DemoJobsEnabled,
		},
		notifications,
		reports,
		settingsRepo,
		filestore.NewStateStore(cfg.Scheduler.StateFile, a.Logger),
		filestore.NewEventLog(cfg.Scheduler.LogFile, a.Logger),
		a.Logger,
		scheduler.WithMetrics(a.Metrics),
	)

	return &Notifier{
		Notifications: notifications,
		Settings:      service.NewSettingsService(settingsRepo, postgres.NewTxManager(a.Pool), a.Logger),
		Reports:       reports,
		Scheduler:     sched,
	}, nil
}
