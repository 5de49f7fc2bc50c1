package schedule

import (
	"time"

	"github.com/kitwatch/notifier/internal/domain/notification"
)

// Job identifiers used in state, logs and metrics.
const (
	JobReport = "business_day_report"
	JobTimed  = "timed_notification"
	JobDemo   = "demo"
)

// Outcome labels persisted as lastStatus / lastTimedStatus.
const (
	StatusSent    = "sent"
	StatusQueued  = "queued"
	StatusFailed  = "failed"
	StatusPartial = "partial"
	StatusSkipped = "skipped"
)

// State is the persisted scheduler record. Absent fields decode as nil.
type State struct {
	LastSendAt      *time.Time `json:"lastSendAt"`
	NextDueAt       *time.Time `json:"nextDueAt"`
	LastStatus      *string    `json:"lastStatus"`
	LastTimedSendAt *time.Time `json:"lastTimedSendAt"`
	NextTimedDueAt  *time.Time `json:"nextTimedDueAt"`
	LastTimedStatus *string    `json:"lastTimedStatus"`

	PendingRetries []PendingRetry `json:"pendingRetries,omitempty"`
}

// PendingRetry is one armed tier of a coarse retry series. All tiers of a
// series share SeriesID so a success can cancel the rest.
type PendingRetry struct {
	ID       string               `json:"id"`
	SeriesID string               `json:"seriesId"`
	Job      string               `json:"job"`
	Tier     int                  `json:"tier"`
	FireAt   time.Time            `json:"fireAt"`
	Message  notification.Message `json:"message"`
}

// Patch lists the state keys a write overlays. Keys not present are left
// as they are on disk.
type Patch map[string]any

func (p Patch) ReportOutcome(at, nextDue time.Time, status string) Patch {
	p["lastSendAt"] = at
	p["nextDueAt"] = nextDue
	p["lastStatus"] = status
	return p
}

func (p Patch) TimedOutcome(at, nextDue time.Time, status string) Patch {
	p["lastTimedSendAt"] = at
	p["nextTimedDueAt"] = nextDue
	p["lastTimedStatus"] = status
	return p
}

func (p Patch) Retries(pending []PendingRetry) Patch {
	if pending == nil {
		pending = []PendingRetry{}
	}
	p["pendingRetries"] = pending
	return p
}

// StateRepository persists State with merge-on-write semantics.
type StateRepository interface {
	Load() (*State, error)
	Merge(patch Patch) error
}

// Event is one line of the append-only scheduler log.
type Event struct {
	Type    string
	Status  string
	Context map[string]any
}

type EventLogger interface {
	Append(ev Event)
}
