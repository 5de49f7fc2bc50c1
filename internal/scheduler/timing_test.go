package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utcRecurrence() Recurrence {
	return Recurrence{
		StartDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		FrequencyDays: 30,
		Hour:          8,
		Minute:        0,
		Location:      time.UTC,
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{"anchor in the future", time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"same day before send time", time.Date(2025, 1, 1, 7, 59, 0, 0, time.UTC), time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"exactly at anchor moves on", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC)},
		{"mid march", time.Date(2025, 3, 15, 8, 0, 30, 0, time.UTC), time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)},
		{"far ahead", time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 6, 20, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextRun(utcRecurrence(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, next)
			assert.True(t, next.After(tt.now))
		})
	}
}

func TestNextRun_KeepsWallClockAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	r := Recurrence{
		StartDate:     time.Date(2025, 3, 1, 0, 0, 0, 0, berlin),
		FrequencyDays: 30,
		Hour:          8,
		Location:      berlin,
	}

	next, err := NextRun(r, time.Date(2025, 3, 10, 12, 0, 0, 0, berlin))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 31, 8, 0, 0, 0, berlin), next)
	assert.Equal(t, 8, next.Hour())
}

func TestNextRun_InvalidFrequency(t *testing.T) {
	r := utcRecurrence()
	r.FrequencyDays = 0

	_, err := NextRun(r, time.Now())
	assert.Error(t, err)

	_, err = IsDueNow(r, time.Now())
	assert.Error(t, err)
}

func TestIsDueNow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{"two weeks away", time.Date(2025, 3, 15, 8, 0, 30, 0, time.UTC), false},
		{"just after a slot", time.Date(2025, 1, 31, 8, 0, 15, 0, time.UTC), true},
		{"just before a slot", time.Date(2025, 1, 31, 7, 59, 30, 0, time.UTC), true},
		{"window edge after", time.Date(2025, 1, 31, 8, 1, 0, 0, time.UTC), true},
		{"past the window", time.Date(2025, 1, 31, 8, 1, 1, 0, time.UTC), false},
		{"before anchor", time.Date(2024, 12, 31, 8, 0, 0, 0, time.UTC), false},
		{"anchor itself", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := IsDueNow(utcRecurrence(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.due, due)
		})
	}
}

func TestDueSlot_PrefersUpcoming(t *testing.T) {
	r := utcRecurrence()
	r.FrequencyDays = 1
	r.Hour, r.Minute = 0, 0

	slot, due, err := DueSlot(r, time.Date(2025, 2, 1, 23, 59, 30, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, due)
	assert.Equal(t, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), slot)
}

func TestFirstBusinessDay(t *testing.T) {
	tests := []struct {
		name     string
		month    time.Time
		expected int
	}{
		{"starts on saturday", time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), 3},
		{"starts on sunday", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), 2},
		{"starts on tuesday", time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC), 1},
		{"starts on monday", time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FirstBusinessDay(tt.month)
			assert.Equal(t, tt.expected, d.Day())
			assert.Equal(t, tt.month.Month(), d.Month())
			assert.NotEqual(t, time.Saturday, d.Weekday())
			assert.NotEqual(t, time.Sunday, d.Weekday())
		})
	}
}

func TestIsFirstBusinessDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	assert.True(t, IsFirstBusinessDay(time.Date(2025, 3, 3, 8, 0, 0, 0, berlin)))
	assert.False(t, IsFirstBusinessDay(time.Date(2025, 3, 1, 8, 0, 0, 0, berlin)))
	assert.False(t, IsFirstBusinessDay(time.Date(2025, 3, 4, 8, 0, 0, 0, berlin)))
	assert.True(t, IsFirstBusinessDay(time.Date(2025, 4, 1, 0, 30, 0, 0, berlin)))

	// 23:30 UTC on March 31 is already April 1 in Berlin.
	assert.True(t, IsFirstBusinessDay(time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC).In(berlin)))
}
