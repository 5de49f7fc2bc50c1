package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/inventory"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/outbox"
	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/infrastructure/providers"
)

// --- Provider Mock ---

// MockProvider records every payload it is asked to send.
type MockProvider struct {
	mu       sync.Mutex
	name     string
	payloads []*notification.Payload

	SendFunc func(ctx context.Context, payload *notification.Payload) (*providers.Result, error)
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Send(ctx context.Context, payload *notification.Payload) (*providers.Result, error) {
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	n := len(m.payloads)
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, payload)
	}
	return &providers.Result{MessageID: fmt.Sprintf("msg-%d", n), Status: "sent"}, nil
}

// Calls returns how many sends were attempted.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// Payloads returns a copy of the recorded payloads in call order.
func (m *MockProvider) Payloads() []*notification.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payloads)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	EnqueueFunc func(ctx context.Context, payload outbox.Payload) (string, error)
	ListFunc    func(ctx context.Context) ([]*outbox.Entry, error)
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

// Add stores an entry directly, bypassing EnqueueFunc.
func (m *MockOutboxRepository) Add(e *outbox.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, payload outbox.Payload) (string, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, payload)
	}
	e := outbox.NewEntry(payload)
	m.Add(e)
	return e.ID, nil
}

func (m *MockOutboxRepository) List(ctx context.Context) ([]*outbox.Entry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*outbox.Entry, len(m.entries))
	for i, e := range m.entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}

func (m *MockOutboxRepository) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e *outbox.Entry) bool { return e.ID == id })
	return len(m.entries) != before
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.Attempts++
			return e.Attempts, nil
		}
	}
	return 0, domainErrors.ErrOutboxEntryNotFound
}

// Entries returns the stored entries without copying.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// --- Settings Repository Mock ---

type MockSettingsRepository struct {
	mu     sync.Mutex
	values map[string]*settings.Setting

	GetFunc    func(ctx context.Context, key string) (*settings.Setting, error)
	UpsertFunc func(ctx context.Context, s *settings.Setting) error
}

func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{values: make(map[string]*settings.Setting)}
}

// Set stores a value without validation.
func (m *MockSettingsRepository) Set(key, value string, t settings.ValueType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = &settings.Setting{Key: key, Value: value, Type: t}
}

func (m *MockSettingsRepository) Get(ctx context.Context, key string) (*settings.Setting, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domainErrors.ErrSettingNotFound)
	}
	c := *s
	return &c, nil
}

func (m *MockSettingsRepository) GetAll(ctx context.Context) ([]*settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*settings.Setting, 0, len(m.values))
	for _, s := range m.values {
		c := *s
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *settings.Setting) int {
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MockSettingsRepository) Upsert(ctx context.Context, s *settings.Setting) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	c.UpdatedAt = time.Now()
	m.values[s.Key] = &c
	return nil
}

// --- Inventory Repository Mock ---

type MockInventoryRepository struct {
	Due  []*inventory.Item
	Zero []*inventory.Item

	DueForPeriodFunc func(ctx context.Context, from, to time.Time) ([]*inventory.Item, error)
	ZeroStockFunc    func(ctx context.Context) ([]*inventory.Item, error)
}

func (m *MockInventoryRepository) DueForPeriod(ctx context.Context, from, to time.Time) ([]*inventory.Item, error) {
	if m.DueForPeriodFunc != nil {
		return m.DueForPeriodFunc(ctx, from, to)
	}
	return m.Due, nil
}

func (m *MockInventoryRepository) ZeroStock(ctx context.Context) ([]*inventory.Item, error) {
	if m.ZeroStockFunc != nil {
		return m.ZeroStockFunc(ctx)
	}
	return m.Zero, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn inline without a real transaction.
type MockTransactionManager struct {
	Calls int
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Calls++
	return fn(ctx)
}
