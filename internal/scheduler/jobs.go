package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/schedule"
	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/service"
)

// ReportDuePeriod is added to the send day to get nextDueAt.
const ReportDuePeriod = 30

// RunResult describes what one job run did.
type RunResult struct {
	Job       string `json:"job"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	OutboxID  string `json:"outboxId,omitempty"`
	Sent      int    `json:"sent,omitempty"`
	Failed    int    `json:"failed,omitempty"`
}

// RunReportNow sends the report immediately, bypassing the business-day
// and already-sent checks. The outcome is persisted like a scheduled run.
func (s *Scheduler) RunReportNow(ctx context.Context) (*RunResult, error) {
	res := s.runReport(ctx, true)
	if res.Status == schedule.StatusSkipped {
		return res, fmt.Errorf("report not sent: %s", res.Reason)
	}
	return res, nil
}

func (s *Scheduler) runReport(ctx context.Context, force bool) *RunResult {
	now := s.now().In(s.cfg.Location)
	logger := s.logger.With().Str("job", schedule.JobReport).Bool("manual", force).Logger()
	skip := func(reason string) *RunResult {
		logger.Info().Str("reason", reason).Msg("Report skipped")
		s.record(schedule.JobReport, schedule.StatusSkipped, map[string]any{"reason": reason})
		return &RunResult{Job: schedule.JobReport, Status: schedule.StatusSkipped, Reason: reason}
	}

	if !force && !IsFirstBusinessDay(now) {
		return skip(fmt.Sprintf("%s is not the first business day (%s)",
			now.Format(time.DateOnly), FirstBusinessDay(now).Format(time.DateOnly)))
	}

	if !force {
		st, err := s.state.Load()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load scheduler state")
		} else if st.LastSendAt != nil && sameDay(now, *st.LastSendAt) {
			return skip("report already sent today")
		}
	}

	if len(s.cfg.ReportRecipients) == 0 {
		return skip("no report recipients configured")
	}

	report, err := s.reports.BuildReport(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build report")
		return s.finishReport(logger, now, schedule.StatusFailed, nil, err.Error())
	}

	msg := notification.Message{
		To:      recipientsOf(s.cfg.ReportRecipients),
		Subject: report.Subject,
		HTML:    report.HTML,
		Text:    report.Text,
		Tags:    []string{"report"},
	}
	if err := notification.Validate(msg); err != nil {
		logger.Error().Err(err).Msg("Report message invalid")
		return s.finishReport(logger, now, schedule.StatusFailed, nil, err.Error())
	}

	res, err := s.sender.SendNotification(ctx, msg)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Report delivery failed")
		out := s.finishReport(logger, now, schedule.StatusFailed, nil, err.Error())
		if !errors.Is(err, domainErrors.ErrNotConfigured) {
			s.armRetries(schedule.JobReport, msg, now)
		}
		return out
	case !res.Success:
		out := s.finishReport(logger, now, schedule.StatusQueued, res, res.Error)
		s.armRetries(schedule.JobReport, msg, now)
		return out
	default:
		return s.finishReport(logger, now, schedule.StatusSent, res, "")
	}
}

func (s *Scheduler) finishReport(logger zerolog.Logger, now time.Time, status string, res *service.SendResult, reason string) *RunResult {
	out := &RunResult{Job: schedule.JobReport, Status: status, Reason: reason}
	ctx := map[string]any{"recipients": len(s.cfg.ReportRecipients)}
	if res != nil {
		out.MessageID = res.MessageID
		out.OutboxID = res.OutboxID
		ctx["messageId"] = res.MessageID
		ctx["outboxId"] = res.OutboxID
	}
	if reason != "" {
		ctx["reason"] = reason
	}

	s.persistReportOutcome(logger, now, status)
	s.record(schedule.JobReport, status, ctx)
	logger.Info().Str("status", status).Msg("Report run finished")
	return out
}

func (s *Scheduler) persistReportOutcome(logger zerolog.Logger, now time.Time, status string) {
	next := now.AddDate(0, 0, ReportDuePeriod)
	if err := s.state.Merge(schedule.Patch{}.ReportOutcome(now, next, status)); err != nil {
		logger.Error().Err(err).Msg("Failed to persist report outcome")
	}
}

// timedConfig is the settings-driven job definition.
type timedConfig struct {
	recurrence    Recurrence
	recipients    []string
	subjectPrefix string
}

// loadTimedConfig returns ok=false when the job is not configured.
func (s *Scheduler) loadTimedConfig(ctx context.Context) (*timedConfig, bool, error) {
	get := func(key string) (*settings.Setting, bool, error) {
		st, err := s.settings.Get(ctx, key)
		if errors.Is(err, domainErrors.ErrSettingNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return st, true, nil
	}

	start, ok, err := get(settings.KeyStartDate)
	if err != nil || !ok {
		return nil, false, err
	}
	freq, ok, err := get(settings.KeyFrequencyDays)
	if err != nil || !ok {
		return nil, false, err
	}
	at, ok, err := get(settings.KeySendTime)
	if err != nil || !ok {
		return nil, false, err
	}
	rcpt, ok, err := get(settings.KeyRecipients)
	if err != nil || !ok {
		return nil, false, err
	}
	prefix, _, err := get(settings.KeySubjectPrefix)
	if err != nil {
		return nil, false, err
	}

	startDate, err := start.Date(s.cfg.Location)
	if err != nil {
		return nil, false, err
	}
	days, err := freq.Int()
	if err != nil {
		return nil, false, err
	}
	hour, minute, err := at.Clock()
	if err != nil {
		return nil, false, err
	}

	cfg := &timedConfig{
		recurrence: Recurrence{
			StartDate:     startDate,
			FrequencyDays: days,
			Hour:          hour,
			Minute:        minute,
			Location:      s.cfg.Location,
		},
		recipients: rcpt.List(),
	}
	if prefix != nil {
		cfg.subjectPrefix = prefix.Value
	}
	if err := cfg.recurrence.validate(); err != nil {
		return nil, false, err
	}
	return cfg, len(cfg.recipients) > 0, nil
}

func (s *Scheduler) runTimed(ctx context.Context) {
	now := s.now().In(s.cfg.Location)
	logger := s.logger.With().Str("job", schedule.JobTimed).Logger()

	cfg, ok, err := s.loadTimedConfig(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Timed notification settings invalid")
		return
	}
	if !ok {
		logger.Trace().Msg("Timed notification not configured")
		return
	}

	slot, due, err := DueSlot(cfg.recurrence, now)
	if err != nil || !due {
		return
	}

	st, err := s.state.Load()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load scheduler state")
	} else if st.LastTimedSendAt != nil && alreadyFired(*st.LastTimedSendAt, slot, now) {
		logger.Debug().Time("last_sent", *st.LastTimedSendAt).Time("slot", slot).Msg("Timed notification already sent for this slot")
		return
	}

	// Claim the slot before sending so a tick landing during the fan-out
	// does not fire again.
	next, _ := NextRun(cfg.recurrence, slot)
	if err := s.state.Merge(schedule.Patch{"lastTimedSendAt": now}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist timed send claim")
	}

	msg, err := s.timedMessage(ctx, cfg, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build timed notification")
		s.persistTimedOutcome(logger, now, next, schedule.StatusFailed)
		s.record(schedule.JobTimed, schedule.StatusFailed, map[string]any{"reason": err.Error()})
		return
	}

	sent, failed, deferred := 0, 0, 0
	stop := s.stopSignal()
	for i, rcpt := range cfg.recipients {
		m := msg
		m.To = notification.Recipients{{Email: rcpt}}

		if i > 0 && sleep(stop, s.pacing) != nil {
			failed++
			deferred++
			s.armRetries(schedule.JobTimed, m, now)
			continue
		}

		res, err := s.sender.SendNotification(ctx, m)
		if err == nil && res.Success {
			sent++
			continue
		}
		failed++
		if err != nil {
			logger.Warn().Err(err).Str("recipient", rcpt).Msg("Timed notification failed")
			if errors.Is(err, domainErrors.ErrValidationFailed) || errors.Is(err, domainErrors.ErrNotConfigured) {
				continue
			}
		} else {
			logger.Warn().Str("recipient", rcpt).Str("outbox_id", res.OutboxID).Msg("Timed notification queued")
		}
		s.armRetries(schedule.JobTimed, m, now)
	}

	status := schedule.StatusSent
	switch {
	case sent == 0:
		status = schedule.StatusFailed
	case failed > 0:
		status = schedule.StatusPartial
	}

	s.persistTimedOutcome(logger, now, next, status)
	s.record(schedule.JobTimed, status, map[string]any{
		"sent":     sent,
		"failed":   failed,
		"deferred": deferred,
		"nextDue":  next,
	})
	logger.Info().Int("sent", sent).Int("failed", failed).Int("deferred", deferred).Str("status", status).Time("next_due", next).Msg("Timed notification finished")
}

// alreadyFired reports whether a send recorded at last covers slot: it was
// made within DueWindow of the slot or within DueWindow before now.
func alreadyFired(last, slot, now time.Time) bool {
	if d := last.Sub(slot); d >= -DueWindow && d <= DueWindow {
		return true
	}
	return !last.After(now) && now.Sub(last) < DueWindow
}

func (s *Scheduler) persistTimedOutcome(logger zerolog.Logger, now, next time.Time, status string) {
	if err := s.state.Merge(schedule.Patch{}.TimedOutcome(now, next, status)); err != nil {
		logger.Error().Err(err).Msg("Failed to persist timed outcome")
	}
}

func (s *Scheduler) timedMessage(ctx context.Context, cfg *timedConfig, now time.Time) (notification.Message, error) {
	report, err := s.reports.BuildReport(ctx, now)
	if err != nil {
		return notification.Message{}, err
	}
	subject := report.Subject
	if cfg.subjectPrefix != "" {
		subject = cfg.subjectPrefix + " " + subject
	}
	return notification.Message{
		Subject: subject,
		HTML:    report.HTML,
		Text:    report.Text,
		Tags:    []string{"timed"},
	}, nil
}

func recipientsOf(emails []string) notification.Recipients {
	out := make(notification.Recipients, len(emails))
	for i, e := range emails {
		out[i] = notification.Address{Email: e}
	}
	return out
}
