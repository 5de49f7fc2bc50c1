package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kitwatch/notifier/internal/domain/schedule"
)

// EventLog appends one JSON object per line. It is never rotated here.
type EventLog struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
	now    func() time.Time
}

func NewEventLog(path string, logger zerolog.Logger) *EventLog {
	return &EventLog{
		path:   path,
		logger: logger.With().Str("component", "scheduler_log").Logger(),
		now:    time.Now,
	}
}

var _ schedule.EventLogger = (*EventLog)(nil)

// Append writes {ts, type, status, ...context}. Failures are logged only.
func (l *EventLog) Append(ev schedule.Event) {
	if l.path == "" {
		return
	}

	line := make(map[string]any, len(ev.Context)+3)
	for k, v := range ev.Context {
		line[k] = v
	}
	line["ts"] = l.now().UTC().Format(time.RFC3339Nano)
	line["type"] = ev.Type
	line["status"] = ev.Status

	data, err := json.Marshal(line)
	if err != nil {
		l.logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode scheduler event")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.logger.Error().Err(err).Msg("Failed to create scheduler log dir")
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to open scheduler log")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.logger.Error().Err(err).Msg("Failed to append scheduler event")
	}
}
