package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/schedule"
)

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// armRetries schedules one coarse retry per offset, all carrying msg. The
// series is persisted before any timer is armed.
func (s *Scheduler) armRetries(job string, msg notification.Message, failedAt time.Time) {
	if len(s.retryOffsets) == 0 {
		return
	}
	seriesID := s.newSeriesID()

	tiers := make([]schedule.PendingRetry, 0, len(s.retryOffsets))
	for i, off := range s.retryOffsets {
		tiers = append(tiers, schedule.PendingRetry{
			ID:       fmt.Sprintf("%s-%d", seriesID, i+1),
			SeriesID: seriesID,
			Job:      job,
			Tier:     i + 1,
			FireAt:   failedAt.Add(off),
			Message:  msg,
		})
	}

	s.mu.Lock()
	for _, t := range tiers {
		s.pending[t.ID] = t
	}
	s.persistPendingLocked()
	for _, t := range tiers {
		s.armLocked(t, failedAt)
	}
	s.mu.Unlock()

	s.logger.Warn().
		Str("job", job).
		Str("series_id", seriesID).
		Int("tiers", len(tiers)).
		Time("first_at", tiers[0].FireAt).
		Msg("Coarse retry series armed")
	s.record(job+"_retry", "armed", map[string]any{"seriesId": seriesID, "tiers": len(tiers)})
}

// restoreRetries re-arms what a previous process left in the state file.
func (s *Scheduler) restoreRetries() error {
	st, err := s.state.Load()
	if err != nil {
		return err
	}
	if len(st.PendingRetries) == 0 {
		return nil
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range st.PendingRetries {
		s.pending[pr.ID] = pr
		s.armLocked(pr, now)
	}
	s.updatePendingGaugeLocked()
	s.logger.Info().Int("pending", len(st.PendingRetries)).Msg("Restored coarse retries")
	return nil
}

// armLocked starts the timer for pr. After Stop the tier is only kept in
// the persisted state, and the next Start arms it.
func (s *Scheduler) armLocked(pr schedule.PendingRetry, now time.Time) {
	if s.stopped {
		return
	}
	delay := max(pr.FireAt.Sub(now), 0)
	id := pr.ID
	s.timers[id] = s.afterFunc(delay, func() { s.fireRetry(id) })
}

// fireRetry runs one tier. Success cancels the rest of the series and
// records the outcome the way the primary run would.
func (s *Scheduler) fireRetry(id string) {
	s.mu.Lock()
	pr, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	delete(s.timers, id)
	s.persistPendingLocked()
	s.mu.Unlock()

	ctx := s.runCtx
	logger := s.logger.With().
		Str("job", pr.Job).
		Str("series_id", pr.SeriesID).
		Int("tier", pr.Tier).
		Logger()

	res, err := s.sender.TrySend(ctx, pr.Message)
	if err != nil {
		logger.Warn().Err(err).Msg("Coarse retry failed")
		s.record(pr.Job+"_retry", schedule.StatusFailed, map[string]any{
			"seriesId": pr.SeriesID,
			"tier":     pr.Tier,
			"reason":   err.Error(),
		})
		return
	}

	cancelled := s.cancelSeries(pr.SeriesID)
	now := s.now().In(s.cfg.Location)
	switch pr.Job {
	case schedule.JobReport:
		s.persistReportOutcome(logger, now, schedule.StatusSent)
	case schedule.JobTimed:
		patch := schedule.Patch{"lastTimedSendAt": now, "lastTimedStatus": schedule.StatusSent}
		if cfg, ok, err := s.loadTimedConfig(ctx); err == nil && ok {
			if next, err := NextRun(cfg.recurrence, now); err == nil {
				patch["nextTimedDueAt"] = next
			}
		}
		if err := s.state.Merge(patch); err != nil {
			logger.Error().Err(err).Msg("Failed to persist timed outcome")
		}
	}

	logger.Info().Str("message_id", res.MessageID).Int("cancelled", cancelled).Msg("Coarse retry delivered")
	s.record(pr.Job+"_retry", schedule.StatusSent, map[string]any{
		"seriesId":  pr.SeriesID,
		"tier":      pr.Tier,
		"messageId": res.MessageID,
	})
}

// cancelSeries disarms and forgets the remaining tiers of a series.
func (s *Scheduler) cancelSeries(seriesID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, pr := range s.pending {
		if pr.SeriesID != seriesID {
			continue
		}
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
		delete(s.pending, id)
		n++
	}
	if n > 0 {
		s.persistPendingLocked()
	}
	return n
}

// PendingRetries returns the armed tiers ordered by fire time.
func (s *Scheduler) PendingRetries() []schedule.PendingRetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPendingLocked()
}

func (s *Scheduler) sortedPendingLocked() []schedule.PendingRetry {
	out := make([]schedule.PendingRetry, 0, len(s.pending))
	for _, pr := range s.pending {
		out = append(out, pr)
	}
	slices.SortFunc(out, func(a, b schedule.PendingRetry) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		return a.Tier - b.Tier
	})
	return out
}

func (s *Scheduler) persistPendingLocked() {
	if err := s.state.Merge(schedule.Patch{}.Retries(s.sortedPendingLocked())); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist pending retries")
	}
	s.updatePendingGaugeLocked()
}

func (s *Scheduler) updatePendingGaugeLocked() {
	if s.metrics != nil {
		s.metrics.PendingRetries.Set(float64(len(s.pending)))
	}
}
