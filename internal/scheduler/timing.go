package scheduler

import (
	"errors"
	"time"
)

// DueWindow is how close to a slot a tick must land to fire it, and how long
// a recorded send suppresses another one.
const DueWindow = 60 * time.Second

var errInvalidFrequency = errors.New("frequency_days must be at least 1")

// Recurrence is a start date repeated every FrequencyDays at Hour:Minute,
// evaluated in Location.
type Recurrence struct {
	StartDate     time.Time
	FrequencyDays int
	Hour          int
	Minute        int
	Location      *time.Location
}

func (r Recurrence) validate() error {
	if r.FrequencyDays < 1 {
		return errInvalidFrequency
	}
	return nil
}

func (r Recurrence) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// anchor is the start date at the configured time of day.
func (r Recurrence) anchor() time.Time {
	y, m, d := r.StartDate.In(r.loc()).Date()
	return time.Date(y, m, d, r.Hour, r.Minute, 0, 0, r.loc())
}

// slot returns the n-th occurrence. Days are added on the calendar so the
// wall-clock time survives DST changes.
func (r Recurrence) slot(n int) time.Time {
	a := r.anchor()
	return a.AddDate(0, 0, n*r.FrequencyDays)
}

// NextRun returns the first occurrence strictly after now: the anchor when
// it is still ahead, otherwise the anchor plus as many whole periods as it
// takes to pass now.
func NextRun(r Recurrence, now time.Time) (time.Time, error) {
	if err := r.validate(); err != nil {
		return time.Time{}, err
	}
	a := r.anchor()
	if a.After(now) {
		return a, nil
	}

	// Jump close to now, then step. Calendar days may be 23 or 25 hours long.
	period := time.Duration(r.FrequencyDays) * 24 * time.Hour
	n := int(now.Sub(a) / period)
	if n > 0 {
		n--
	}
	for {
		next := r.slot(n)
		if next.After(now) {
			return next, nil
		}
		n++
	}
}

// PreviousRun returns the latest occurrence at or before now, and false when
// the anchor is still in the future.
func PreviousRun(r Recurrence, now time.Time) (time.Time, bool, error) {
	next, err := NextRun(r, now)
	if err != nil {
		return time.Time{}, false, err
	}
	prev := next.AddDate(0, 0, -r.FrequencyDays)
	if prev.Before(r.anchor()) {
		return time.Time{}, false, nil
	}
	return prev, true, nil
}

// DueSlot returns the occurrence within DueWindow of now, preferring the
// upcoming one over the one that just passed.
func DueSlot(r Recurrence, now time.Time) (time.Time, bool, error) {
	next, err := NextRun(r, now)
	if err != nil {
		return time.Time{}, false, err
	}
	if next.Sub(now) <= DueWindow {
		return next, true, nil
	}
	prev, ok, err := PreviousRun(r, now)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if now.Sub(prev) <= DueWindow {
		return prev, true, nil
	}
	return time.Time{}, false, nil
}

// IsDueNow reports whether now is within DueWindow of an occurrence, either
// the upcoming one or the one that just passed.
func IsDueNow(r Recurrence, now time.Time) (bool, error) {
	_, due, err := DueSlot(r, now)
	return due, err
}

// FirstBusinessDay returns the first Monday to Friday of t's month, at
// midnight in t's location.
func FirstBusinessDay(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// IsFirstBusinessDay reports whether t falls on the first business day of
// its month, in t's location.
func IsFirstBusinessDay(t time.Time) bool {
	return sameDay(t, FirstBusinessDay(t))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
