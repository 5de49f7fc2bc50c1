package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/schedule"
	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/infrastructure/filestore"
	"github.com/kitwatch/notifier/internal/infrastructure/observability"
	"github.com/kitwatch/notifier/internal/service"
	mocks "github.com/kitwatch/notifier/internal/testutil"
)

// --- Test Doubles ---

type fakeSender struct {
	mu       sync.Mutex
	sent     []notification.Message
	tried    []notification.Message
	sendFunc func(msg notification.Message) (*service.SendResult, error)
	tryFunc  func(msg notification.Message) (*service.SendResult, error)
}

func (f *fakeSender) SendNotification(ctx context.Context, msg notification.Message) (*service.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.sendFunc != nil {
		return f.sendFunc(msg)
	}
	return &service.SendResult{Success: true, MessageID: "msg-1"}, nil
}

func (f *fakeSender) TrySend(ctx context.Context, msg notification.Message) (*service.SendResult, error) {
	f.mu.Lock()
	f.tried = append(f.tried, msg)
	f.mu.Unlock()
	if f.tryFunc != nil {
		return f.tryFunc(msg)
	}
	return &service.SendResult{Success: true, MessageID: "retry-1"}, nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeReports struct {
	err error
}

func (f *fakeReports) BuildReport(ctx context.Context, now time.Time) (*service.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.Report{
		Subject: "First-aid kit report " + now.Format("January 2006"),
		HTML:    "<p>report</p>",
		Text:    "report",
	}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []schedule.Event
}

func (r *recordedEvents) Append(ev schedule.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) statuses(job string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == job {
			out = append(out, ev.Status)
		}
	}
	return out
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type harness struct {
	sched    *Scheduler
	sender   *fakeSender
	reports  *fakeReports
	settings *mocks.MockSettingsRepository
	state    *filestore.StateStore
	events   *recordedEvents
	timers   []*fakeTimer
	clock    time.Time
	metrics  *observability.Metrics
}

func newHarness(t *testing.T, now time.Time, recipients ...string) *harness {
	t.Helper()
	h := &harness{
		sender:   &fakeSender{},
		reports:  &fakeReports{},
		settings: mocks.NewMockSettingsRepository(),
		state:    filestore.NewStateStore(filepath.Join(t.TempDir(), "scheduler-state.json"), zerolog.Nop()),
		events:   &recordedEvents{},
		clock:    now,
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
	}

	h.sched = New(
		Config{Location: now.Location(), ReportRecipients: recipients},
		h.sender, h.reports, h.settings, h.state, h.events, zerolog.Nop(),
		WithClock(func() time.Time { return h.clock }),
		WithRecipientPacing(0),
		WithMetrics(h.metrics),
	)
	h.sched.newSeriesID = func() string { return "series" }
	h.sched.afterFunc = func(d time.Duration, f func()) stopper {
		ft := &fakeTimer{delay: d, fn: f}
		h.timers = append(h.timers, ft)
		return ft
	}
	return h
}

func (h *harness) configureTimed(recipients string) {
	h.settings.Set(settings.KeyStartDate, "2025-01-01", settings.TypeDate)
	h.settings.Set(settings.KeyFrequencyDays, "30", settings.TypeInt)
	h.settings.Set(settings.KeySendTime, "08:00", settings.TypeTime)
	h.settings.Set(settings.KeyRecipients, recipients, settings.TypeList)
	h.settings.Set(settings.KeySubjectPrefix, "[Kit]", settings.TypeString)
}

func (h *harness) loadState(t *testing.T) *schedule.State {
	t.Helper()
	st, err := h.state.Load()
	require.NoError(t, err)
	return st
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

// --- Business-day report ---

func TestRunReport_SkipsOutsideFirstBusinessDay(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 4, 8, 0, 0, 0, berlin(t)), "lead@example.org")

	res := h.sched.runReport(context.Background(), false)

	assert.Equal(t, schedule.StatusSkipped, res.Status)
	assert.Contains(t, res.Reason, "2025-03-03")
	assert.Equal(t, 0, h.sender.sentCount())
	assert.Nil(t, h.loadState(t).LastSendAt)
	assert.Equal(t, []string{schedule.StatusSkipped}, h.events.statuses(schedule.JobReport))
}

func TestRunReport_SendsOnFirstBusinessDay(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, loc)
	h := newHarness(t, now, "lead@example.org", "deputy@example.org")

	res := h.sched.runReport(context.Background(), false)

	assert.Equal(t, schedule.StatusSent, res.Status)
	assert.Equal(t, "msg-1", res.MessageID)
	require.Equal(t, 1, h.sender.sentCount())
	assert.Equal(t, []string{"lead@example.org", "deputy@example.org"}, h.sender.sent[0].To.Emails())
	assert.Equal(t, "First-aid kit report March 2025", h.sender.sent[0].Subject)

	st := h.loadState(t)
	require.NotNil(t, st.LastSendAt)
	assert.True(t, now.Equal(*st.LastSendAt))
	assert.True(t, time.Date(2025, 4, 2, 8, 0, 0, 0, loc).Equal(*st.NextDueAt))
	assert.Equal(t, schedule.StatusSent, *st.LastStatus)
	assert.Empty(t, h.sched.PendingRetries())
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.SchedulerRuns.WithLabelValues(schedule.JobReport, schedule.StatusSent)))
}

func TestRunReport_OncePerDay(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")

	h.sched.runReport(context.Background(), false)
	h.clock = h.clock.Add(2 * time.Hour)
	res := h.sched.runReport(context.Background(), false)

	assert.Equal(t, schedule.StatusSkipped, res.Status)
	assert.Equal(t, "report already sent today", res.Reason)
	assert.Equal(t, 1, h.sender.sentCount())
}

func TestRunReport_NoRecipients(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)))

	res := h.sched.runReport(context.Background(), false)
	assert.Equal(t, schedule.StatusSkipped, res.Status)
	assert.Equal(t, 0, h.sender.sentCount())
}

func TestRunReport_QueuedArmsRetrySeries(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t))
	h := newHarness(t, now, "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return &service.SendResult{Success: false, OutboxID: "ob-1", Error: "503", Status: 503}, nil
	}

	res := h.sched.runReport(context.Background(), false)
	assert.Equal(t, schedule.StatusQueued, res.Status)
	assert.Equal(t, "ob-1", res.OutboxID)

	pending := h.sched.PendingRetries()
	require.Len(t, pending, 3)
	for i, off := range []time.Duration{15 * time.Minute, time.Hour, 3 * time.Hour} {
		assert.Equal(t, i+1, pending[i].Tier)
		assert.True(t, now.Add(off).Equal(pending[i].FireAt))
		assert.Equal(t, schedule.JobReport, pending[i].Job)
	}

	st := h.loadState(t)
	assert.Equal(t, schedule.StatusQueued, *st.LastStatus)
	assert.Len(t, st.PendingRetries, 3)

	var delays []time.Duration
	for _, ft := range h.timers {
		delays = append(delays, ft.delay)
	}
	assert.ElementsMatch(t, []time.Duration{15 * time.Minute, time.Hour, 3 * time.Hour}, delays)
}

func TestRunReport_DeliveryErrorArmsRetries(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return nil, domainErrors.NewDeliveryError("mock", 502, "", nil)
	}

	res := h.sched.runReport(context.Background(), false)
	assert.Equal(t, schedule.StatusFailed, res.Status)
	assert.Len(t, h.sched.PendingRetries(), 3)
}

func TestRunReport_NotConfiguredDoesNotRetry(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return nil, &domainErrors.ConfigurationError{Missing: []string{"sender email"}}
	}

	res := h.sched.runReport(context.Background(), false)
	assert.Equal(t, schedule.StatusFailed, res.Status)
	assert.Empty(t, h.sched.PendingRetries())
}

func TestRunReport_BuildFailure(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")
	h.reports.err = errors.New("database down")

	res := h.sched.runReport(context.Background(), false)
	assert.Equal(t, schedule.StatusFailed, res.Status)
	assert.Equal(t, 0, h.sender.sentCount())
	assert.Equal(t, schedule.StatusFailed, *h.loadState(t).LastStatus)
}

func TestRunReportNow_BypassesBusinessDay(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 18, 14, 0, 0, 0, berlin(t)), "lead@example.org")

	res, err := h.sched.RunReportNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusSent, res.Status)
	assert.Equal(t, 1, h.sender.sentCount())
}

func TestRunReportNow_NoRecipientsIsError(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 18, 14, 0, 0, 0, berlin(t)))

	_, err := h.sched.RunReportNow(context.Background())
	assert.Error(t, err)
}

// --- Coarse retries ---

func TestFireRetry_SuccessCancelsSeries(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t))
	h := newHarness(t, now, "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return &service.SendResult{Success: false, OutboxID: "ob-1"}, nil
	}
	h.sched.runReport(context.Background(), false)

	first := h.sched.PendingRetries()[0]
	h.clock = first.FireAt
	h.sched.fireRetry(first.ID)

	require.Len(t, h.sender.tried, 1)
	assert.Equal(t, h.sender.sent[0], h.sender.tried[0])
	assert.Empty(t, h.sched.PendingRetries())

	st := h.loadState(t)
	assert.Equal(t, schedule.StatusSent, *st.LastStatus)
	assert.True(t, first.FireAt.Equal(*st.LastSendAt))
	assert.Empty(t, st.PendingRetries)

	stopped := 0
	for _, ft := range h.timers {
		if ft.stopped {
			stopped++
		}
	}
	assert.Equal(t, 2, stopped)
	assert.Equal(t, 0.0, promtest.ToFloat64(h.metrics.PendingRetries))
}

func TestFireRetry_FailureKeepsLaterTiers(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return &service.SendResult{Success: false, OutboxID: "ob-1"}, nil
	}
	h.sender.tryFunc = func(notification.Message) (*service.SendResult, error) {
		return nil, domainErrors.NewDeliveryError("mock", 503, "", nil)
	}
	h.sched.runReport(context.Background(), false)

	first := h.sched.PendingRetries()[0]
	h.sched.fireRetry(first.ID)

	pending := h.sched.PendingRetries()
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].Tier)
	assert.Equal(t, schedule.StatusQueued, *h.loadState(t).LastStatus)
	assert.Len(t, h.loadState(t).PendingRetries, 2)

	// A tier that already fired is ignored.
	h.sched.fireRetry(first.ID)
	assert.Len(t, h.sender.tried, 1)
}

func TestStart_RestoresPersistedRetries(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, berlin(t))
	h := newHarness(t, now)

	msg := mocks.NewTestMessage("lead@example.org")
	require.NoError(t, h.state.Merge(schedule.Patch{}.Retries([]schedule.PendingRetry{
		{ID: "s-1", SeriesID: "s", Job: schedule.JobReport, Tier: 1, FireAt: now.Add(-45 * time.Minute), Message: msg},
		{ID: "s-2", SeriesID: "s", Job: schedule.JobReport, Tier: 2, FireAt: now.Add(time.Hour), Message: msg},
	})))

	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(func() { _ = h.sched.Stop(context.Background()) })

	require.Len(t, h.sched.PendingRetries(), 2)
	var delays []time.Duration
	for _, ft := range h.timers {
		delays = append(delays, ft.delay)
	}
	assert.ElementsMatch(t, []time.Duration{0, time.Hour}, delays)
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.PendingRetries))
}

func TestStop_KeepsPendingRetriesPersisted(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return &service.SendResult{Success: false, OutboxID: "ob-1"}, nil
	}
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.runReport(context.Background(), false)

	require.NoError(t, h.sched.Stop(context.Background()))

	for _, ft := range h.timers {
		assert.True(t, ft.stopped)
	}
	assert.Len(t, h.loadState(t).PendingRetries, 3)
}

func TestStart_RegistersJobsOnce(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 3, 8, 0, 0, 0, berlin(t)), "lead@example.org")

	require.NoError(t, h.sched.Start(context.Background()))
	assert.Len(t, h.sched.cron.Entries(), 2)

	require.NoError(t, h.sched.Stop(context.Background()))
	require.NoError(t, h.sched.Start(context.Background()))
	assert.Len(t, h.sched.cron.Entries(), 2)

	require.NoError(t, h.sched.Stop(context.Background()))
}

// --- Timed notification ---

func TestRunTimed_SendsToEachRecipient(t *testing.T) {
	now := time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC)
	h := newHarness(t, now)
	h.configureTimed("a@example.org, b@example.org")

	h.sched.runTimed(context.Background())

	require.Equal(t, 2, h.sender.sentCount())
	assert.Equal(t, []string{"a@example.org"}, h.sender.sent[0].To.Emails())
	assert.Equal(t, []string{"b@example.org"}, h.sender.sent[1].To.Emails())
	assert.Equal(t, "[Kit] First-aid kit report January 2025", h.sender.sent[0].Subject)

	st := h.loadState(t)
	assert.True(t, now.Equal(*st.LastTimedSendAt))
	assert.True(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC).Equal(*st.NextTimedDueAt))
	assert.Equal(t, schedule.StatusSent, *st.LastTimedStatus)
	assert.Nil(t, st.LastSendAt)
}

func TestRunTimed_SuppressesDuplicateTicks(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 7, 59, 30, 0, time.UTC))
	h.configureTimed("a@example.org")

	h.sched.runTimed(context.Background())
	h.clock = time.Date(2025, 1, 31, 8, 0, 30, 0, time.UTC)
	h.sched.runTimed(context.Background())
	h.clock = time.Date(2025, 1, 31, 8, 1, 0, 0, time.UTC)
	h.sched.runTimed(context.Background())

	assert.Equal(t, 1, h.sender.sentCount())
}

func TestRunTimed_NotDue(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 15, 8, 0, 30, 0, time.UTC))
	h.configureTimed("a@example.org")

	h.sched.runTimed(context.Background())

	assert.Equal(t, 0, h.sender.sentCount())
	assert.Nil(t, h.loadState(t).LastTimedSendAt)
}

func TestRunTimed_NotConfigured(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.settings.Set(settings.KeyStartDate, "2025-01-01", settings.TypeDate)

	h.sched.runTimed(context.Background())
	assert.Equal(t, 0, h.sender.sentCount())
}

func TestRunTimed_PartialArmsRetriesForFailedRecipient(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.configureTimed("a@example.org;b@example.org")
	h.sender.sendFunc = func(msg notification.Message) (*service.SendResult, error) {
		if msg.To[0].Email == "b@example.org" {
			return &service.SendResult{Success: false, OutboxID: "ob-b"}, nil
		}
		return &service.SendResult{Success: true, MessageID: "ok"}, nil
	}

	h.sched.runTimed(context.Background())

	assert.Equal(t, schedule.StatusPartial, *h.loadState(t).LastTimedStatus)
	pending := h.sched.PendingRetries()
	require.Len(t, pending, 3)
	assert.Equal(t, schedule.JobTimed, pending[0].Job)
	assert.Equal(t, []string{"b@example.org"}, pending[0].Message.To.Emails())
	assert.Equal(t, []string{schedule.StatusPartial}, h.events.statuses(schedule.JobTimed))
}

func TestRunTimed_AllFailed(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.configureTimed("a@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return nil, domainErrors.NewDeliveryError("mock", 500, "", nil)
	}

	h.sched.runTimed(context.Background())
	assert.Equal(t, schedule.StatusFailed, *h.loadState(t).LastTimedStatus)
}

func TestRunTimed_InvalidSettingsAreIgnored(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.configureTimed("a@example.org")
	h.settings.Set(settings.KeyFrequencyDays, "monthly", settings.TypeInt)

	h.sched.runTimed(context.Background())
	assert.Equal(t, 0, h.sender.sentCount())
}

func TestFireRetry_TimedSuccessUpdatesTimedState(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.configureTimed("a@example.org")
	h.sender.sendFunc = func(notification.Message) (*service.SendResult, error) {
		return &service.SendResult{Success: false, OutboxID: "ob-a"}, nil
	}
	h.sched.runTimed(context.Background())
	require.Equal(t, schedule.StatusFailed, *h.loadState(t).LastTimedStatus)

	first := h.sched.PendingRetries()[0]
	h.clock = first.FireAt
	h.sched.fireRetry(first.ID)

	st := h.loadState(t)
	assert.Equal(t, schedule.StatusSent, *st.LastTimedStatus)
	assert.True(t, first.FireAt.Equal(*st.LastTimedSendAt))
	assert.True(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC).Equal(*st.NextTimedDueAt))
	assert.Empty(t, h.sched.PendingRetries())
}

func TestRunTimed_StopDefersRemainingRecipients(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC))
	h.configureTimed("a@example.org, b@example.org")
	h.sched.pacing = time.Hour

	firstSent := make(chan struct{})
	h.sender.sendFunc = func(msg notification.Message) (*service.SendResult, error) {
		if msg.To[0].Email == "a@example.org" {
			close(firstSent)
		}
		return &service.SendResult{Success: true, MessageID: "ok"}, nil
	}
	require.NoError(t, h.sched.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		h.sched.runTimed(context.Background())
		close(done)
	}()

	<-firstSent
	require.NoError(t, h.sched.Stop(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed fan-out kept pacing after Stop")
	}

	assert.Equal(t, 1, h.sender.sentCount())
	assert.Empty(t, h.timers)

	st := h.loadState(t)
	assert.Equal(t, schedule.StatusPartial, *st.LastTimedStatus)
	require.Len(t, st.PendingRetries, 3)
	assert.Equal(t, []string{"b@example.org"}, st.PendingRetries[0].Message.To.Emails())
}
