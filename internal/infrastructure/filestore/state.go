package filestore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kitwatch/notifier/internal/domain/schedule"
)

// StateStore persists the scheduler record as a JSON object. Writes overlay
// the supplied keys on what is already on disk.
type StateStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewStateStore(path string, logger zerolog.Logger) *StateStore {
	return &StateStore{
		path:   path,
		logger: logger.With().Str("component", "scheduler_state").Str("path", path).Logger(),
	}
}

var _ schedule.StateRepository = (*StateStore)(nil)

func (s *StateStore) Load() (*schedule.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st schedule.State
	if _, err := readJSON(s.path, &st); err != nil {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}
	return &st, nil
}

func (s *StateStore) Merge(patch schedule.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := map[string]json.RawMessage{}
	if _, err := readJSON(s.path, &current); err != nil {
		// A corrupt record is replaced rather than blocking every later tick.
		s.logger.Error().Err(err).Msg("Scheduler state unreadable, rewriting from patch")
		current = map[string]json.RawMessage{}
	}

	for k, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode state key %s: %w", k, err)
		}
		current[k] = raw
	}

	if err := writeJSON(s.path, current); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	return nil
}
