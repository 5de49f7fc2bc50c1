package filestore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitwatch/notifier/internal/domain/schedule"
)

func TestStateStore_MissingFileIsNullState(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st.LastSendAt)
	assert.Nil(t, st.LastStatus)
	assert.Nil(t, st.LastTimedSendAt)
	assert.Empty(t, st.PendingRetries)
}

func TestStateStore_MergeKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path, zerolog.Nop())
	at := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Merge(schedule.Patch{}.ReportOutcome(at, at.AddDate(0, 0, 30), schedule.StatusSent)))
	require.NoError(t, store.Merge(schedule.Patch{}.TimedOutcome(at.Add(time.Hour), at.AddDate(0, 0, 7), schedule.StatusPartial)))

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.LastSendAt)
	assert.True(t, at.Equal(*st.LastSendAt))
	assert.Equal(t, schedule.StatusSent, *st.LastStatus)
	assert.Equal(t, schedule.StatusPartial, *st.LastTimedStatus)
	assert.True(t, at.AddDate(0, 0, 7).Equal(*st.NextTimedDueAt))
}

func TestStateStore_MergePreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"operatorNote":"keep me","lastStatus":"failed"}`), 0o644))
	store := NewStateStore(path, zerolog.Nop())

	require.NoError(t, store.Merge(schedule.Patch{"lastStatus": schedule.StatusSent}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "keep me", raw["operatorNote"])
	assert.Equal(t, "sent", raw["lastStatus"])
}

func TestStateStore_PendingRetriesRoundTrip(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	fire := time.Date(2025, 3, 3, 8, 15, 0, 0, time.UTC)

	require.NoError(t, store.Merge(schedule.Patch{}.Retries([]schedule.PendingRetry{
		{ID: "r1", SeriesID: "s1", Job: schedule.JobReport, Tier: 1, FireAt: fire},
	})))

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.PendingRetries, 1)
	assert.Equal(t, "s1", st.PendingRetries[0].SeriesID)
	assert.True(t, fire.Equal(st.PendingRetries[0].FireAt))
}

func TestEventLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scheduler.jsonl")
	log := NewEventLog(path, zerolog.Nop())
	log.now = func() time.Time { return time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC) }

	log.Append(schedule.Event{Type: schedule.JobReport, Status: schedule.StatusSkipped, Context: map[string]any{"reason": "not first business day"}})
	log.Append(schedule.Event{Type: schedule.JobTimed, Status: schedule.StatusSent, Context: map[string]any{"recipients": 2}})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "2025-03-03T07:00:00Z", lines[0]["ts"])
	assert.Equal(t, "business_day_report", lines[0]["type"])
	assert.Equal(t, "skipped", lines[0]["status"])
	assert.Equal(t, "not first business day", lines[0]["reason"])
	assert.Equal(t, float64(2), lines[1]["recipients"])
}
