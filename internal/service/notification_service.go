package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/outbox"
	"github.com/kitwatch/notifier/internal/infrastructure/observability"
	"github.com/kitwatch/notifier/internal/infrastructure/providers"
	"github.com/kitwatch/notifier/pkg/retry"
)

const (
	defaultChunkPause = 100 * time.Millisecond
	defaultFlushPause = 200 * time.Millisecond
	maxReasonLength   = 500
)

// NotificationService validates, normalizes and delivers notifications.
// Terminal delivery failures are parked in the outbox.
type NotificationService struct {
	provider   providers.Provider
	outboxRepo outbox.Repository
	settings   notification.Settings
	retryCfg   retry.Config
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger

	chunkPause time.Duration
	flushPause time.Duration
	flushMu    sync.Mutex

	// chunkHook observes bulk chunk boundaries in tests.
	chunkHook func(index, size int)
}

type Option func(*NotificationService)

func WithMetrics(m *observability.Metrics) Option {
	return func(s *NotificationService) { s.metrics = m }
}

// WithPacing overrides the pauses between bulk chunks and flushed entries.
func WithPacing(chunk, flush time.Duration) Option {
	return func(s *NotificationService) {
		s.chunkPause = chunk
		s.flushPause = flush
	}
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(
	provider providers.Provider,
	outboxRepo outbox.Repository,
	settings notification.Settings,
	retryCfg retry.Config,
	logger zerolog.Logger,
	opts ...Option,
) *NotificationService {
	s := &NotificationService{
		provider:   provider,
		outboxRepo: outboxRepo,
		settings:   settings,
		retryCfg:   retryCfg,
		tracer:     observability.Tracer(),
		logger:     logger.With().Str("component", "notification_service").Logger(),
		chunkPause: defaultChunkPause,
		flushPause: defaultFlushPause,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendNotification runs the full send path. Configuration and validation
// problems are returned as errors. A delivery failure that was stored in
// the outbox is reported as Success=false with a nil error; only a failure
// to store it returns the original delivery error.
func (s *NotificationService) SendNotification(ctx context.Context, msg notification.Message) (*SendResult, error) {
	requestID := uuid.NewString()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	res, err := s.deliver(ctx, requestID, logger, msg)
	if err == nil {
		return res, nil
	}
	if !isDeliveryFailure(err) {
		return nil, err
	}

	status := domainErrors.StatusCode(err)
	entry := outbox.Payload{
		Message:       msg,
		FailureReason: truncate(err.Error(), maxReasonLength),
		FailureStatus: status,
	}
	var de *domainErrors.DeliveryError
	if errors.As(err, &de) {
		entry.FailureResponse = de.Body
	}

	outboxID, enqueueErr := s.outboxRepo.Enqueue(ctx, entry)
	if enqueueErr != nil {
		logger.Error().
			Err(enqueueErr).
			AnErr("delivery_error", err).
			Msg("Delivery failed and message could not be stored in outbox")
		s.countEmail("failed")
		return nil, err
	}

	s.countEmail("outboxed")
	logger.Warn().
		Str("outbox_id", outboxID).
		Int("status", status).
		Msg("Delivery failed, message stored in outbox")

	return &SendResult{
		Success:   false,
		OutboxID:  outboxID,
		RequestID: requestID,
		Error:     err.Error(),
		Status:    status,
	}, nil
}

// TrySend runs the same gates and retries as SendNotification but never
// stores a failure in the outbox. Scheduler retry tiers use it so a series
// does not pile up duplicate outbox entries.
func (s *NotificationService) TrySend(ctx context.Context, msg notification.Message) (*SendResult, error) {
	requestID := uuid.NewString()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	res, err := s.deliver(ctx, requestID, logger, msg)
	if err != nil {
		if isDeliveryFailure(err) {
			s.countEmail("failed")
		}
		return nil, err
	}
	return res, nil
}

// deliver checks, validates, normalizes and sends msg without touching the
// outbox.
func (s *NotificationService) deliver(ctx context.Context, requestID string, logger zerolog.Logger, msg notification.Message) (*SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("provider", s.provider.Name()),
		attribute.Int("recipients", len(msg.To)+len(msg.CC)+len(msg.BCC)),
	))
	defer span.End()

	if err := notification.CheckConfiguration(s.settings); err != nil {
		logger.Error().Err(err).Msg("Mail delivery not configured")
		span.SetStatus(codes.Error, "not configured")
		return nil, err
	}
	if err := notification.Validate(msg); err != nil {
		logger.Warn().Err(err).Msg("Rejected invalid notification")
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	payload := notification.Normalize(msg, s.settings)

	cfg := s.retryCfg
	cfg.Logger = logger
	cfg.OnRetry = func(attempt uint, err error) {
		if s.metrics != nil {
			s.metrics.EmailRetries.WithLabelValues(s.provider.Name()).Inc()
		}
	}

	logger.Info().
		Str("provider", s.provider.Name()).
		Int("to", len(payload.To)).
		Str("subject", payload.Subject).
		Msg("Sending notification")

	start := time.Now()
	result, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (*providers.Result, error) {
		return s.provider.Send(ctx, payload)
	})
	if s.metrics != nil {
		s.metrics.EmailDuration.WithLabelValues(s.provider.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		span.SetAttributes(attribute.Int("status", domainErrors.StatusCode(err)))
		return nil, err
	}

	s.countEmail("sent")
	logger.Info().Str("message_id", result.MessageID).Msg("Notification sent")
	span.SetAttributes(attribute.String("message_id", result.MessageID))

	return &SendResult{
		Success:   true,
		MessageID: result.MessageID,
		RequestID: requestID,
	}, nil
}

// FlushOutbox replays every stored entry once, in stored order. Entries
// that succeed are removed; failures stay with their attempt count bumped.
// Concurrent calls run one after another.
func (s *NotificationService) FlushOutbox(ctx context.Context) (*FlushSummary, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	entries, err := s.outboxRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("flush outbox: %w", err)
	}

	summary := &FlushSummary{}
	if len(entries) == 0 {
		return summary, nil
	}
	s.logger.Info().Int("entries", len(entries)).Msg("Flushing outbox")

	for i, entry := range entries {
		if i > 0 {
			if err := sleep(ctx, s.flushPause); err != nil {
				return summary, err
			}
		}

		logger := s.logger.With().Str("outbox_id", entry.ID).Logger()

		attempts, err := s.outboxRepo.IncrementAttempts(ctx, entry.ID)
		if errors.Is(err, domainErrors.ErrOutboxEntryNotFound) {
			logger.Debug().Msg("Entry removed before replay, skipping")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record flush attempt")
		}

		summary.Processed++
		res, err := s.deliver(ctx, uuid.NewString(), logger, entry.Payload.Message)
		if err != nil {
			summary.Failed++
			s.countFlush("failed")
			logger.Warn().Err(err).Int("attempts", attempts).Msg("Outbox replay failed")
			continue
		}

		s.outboxRepo.Remove(ctx, entry.ID)
		summary.Successful++
		s.countFlush("succeeded")
		logger.Info().Str("message_id", res.MessageID).Int("attempts", attempts).Msg("Outbox entry delivered")
	}

	s.logger.Info().
		Int("processed", summary.Processed).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("Outbox flush finished")
	return summary, nil
}

// ListOutbox returns the stored entries.
func (s *NotificationService) ListOutbox(ctx context.Context) ([]*outbox.Entry, error) {
	return s.outboxRepo.List(ctx)
}

// DiscardOutboxEntry drops an entry without delivering it.
func (s *NotificationService) DiscardOutboxEntry(ctx context.Context, id string) error {
	if !s.outboxRepo.Remove(ctx, id) {
		return fmt.Errorf("outbox entry %s: %w", id, domainErrors.ErrOutboxEntryNotFound)
	}
	s.logger.Info().Str("outbox_id", id).Msg("Outbox entry discarded")
	return nil
}

func (s *NotificationService) countEmail(status string) {
	if s.metrics != nil {
		s.metrics.EmailsTotal.WithLabelValues(s.provider.Name(), status).Inc()
	}
}

func (s *NotificationService) countFlush(result string) {
	if s.metrics != nil {
		s.metrics.OutboxFlushes.WithLabelValues(result).Inc()
	}
}

// isDeliveryFailure reports whether err came from the provider path rather
// than from configuration or validation gates.
func isDeliveryFailure(err error) bool {
	var cfgErr *domainErrors.ConfigurationError
	if errors.As(err, &cfgErr) || errors.Is(err, domainErrors.ErrValidationFailed) {
		return false
	}
	return true
}

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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
