package filestore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/outbox"
)

// OutboxStore keeps failed messages in a single JSON array file. Every
// mutation reads the whole file, changes it in memory and rewrites it.
// The mutex serializes writers inside this process only.
type OutboxStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
	onSize func(n int)
}

type OutboxOption func(*OutboxStore)

// WithSizeObserver is called with the entry count after every mutation.
func WithSizeObserver(fn func(n int)) OutboxOption {
	return func(s *OutboxStore) { s.onSize = fn }
}

func NewOutboxStore(path string, logger zerolog.Logger, opts ...OutboxOption) *OutboxStore {
	s := &OutboxStore{
		path:   path,
		logger: logger.With().Str("component", "outbox").Str("path", path).Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ outbox.Repository = (*OutboxStore)(nil)

func (s *OutboxStore) load() ([]*outbox.Entry, error) {
	var entries []*outbox.Entry
	if _, err := readJSON(s.path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *OutboxStore) save(entries []*outbox.Entry) error {
	if entries == nil {
		entries = []*outbox.Entry{}
	}
	if err := writeJSON(s.path, entries); err != nil {
		return err
	}
	if s.onSize != nil {
		s.onSize(len(entries))
	}
	return nil
}

// Enqueue appends payload as a new entry. An unreadable file is logged and
// treated as empty so the failed message is still captured.
func (s *OutboxStore) Enqueue(ctx context.Context, payload outbox.Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Msg("Outbox unreadable, starting from empty list")
		entries = nil
	}

	entry := outbox.NewEntry(payload)
	entries = append(entries, entry)
	if err := s.save(entries); err != nil {
		return "", fmt.Errorf("enqueue outbox entry: %w", err)
	}

	s.logger.Info().
		Str("outbox_id", entry.ID).
		Int("failure_status", payload.FailureStatus).
		Int("entries", len(entries)).
		Msg("Message stored in outbox")
	return entry.ID, nil
}

func (s *OutboxStore) List(ctx context.Context) ([]*outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	if entries == nil {
		entries = []*outbox.Entry{}
	}
	return entries, nil
}

func (s *OutboxStore) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Str("outbox_id", id).Msg("Failed to read outbox for removal")
		return false
	}

	kept := slices.DeleteFunc(slices.Clone(entries), func(e *outbox.Entry) bool { return e.ID == id })
	if len(kept) == len(entries) {
		return false
	}
	if err := s.save(kept); err != nil {
		s.logger.Error().Err(err).Str("outbox_id", id).Msg("Failed to remove outbox entry")
		return false
	}

	s.logger.Info().Str("outbox_id", id).Int("entries", len(kept)).Msg("Outbox entry removed")
	return true
}

func (s *OutboxStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	for _, e := range entries {
		if e.ID == id {
			e.Attempts++
			if err := s.save(entries); err != nil {
				return 0, fmt.Errorf("increment attempts: %w", err)
			}
			return e.Attempts, nil
		}
	}
	return 0, fmt.Errorf("outbox entry %s: %w", id, domainErrors.ErrOutboxEntryNotFound)
}
