package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/outbox"
)

func samplePayload(subject string) outbox.Payload {
	return outbox.Payload{
		Message: notification.Message{
			To:      notification.Recipients{{Email: "nurse@example.org", Name: "Nurse"}},
			Subject: subject,
			HTML:    "<p>Kit 4 expires soon</p>",
			Tags:    []string{"report"},
		},
		FailureReason:   "brevo: delivery failed with status 503",
		FailureStatus:   503,
		FailureResponse: `{"message":"unavailable"}`,
	}
}

func newStore(t *testing.T) (*OutboxStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "outbox.json")
	return NewOutboxStore(path, zerolog.Nop()), path
}

func TestOutboxStore_RoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	payload := samplePayload("Kits expiring")

	id, err := store.Enqueue(ctx, payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, payload, entries[0].Payload)
	assert.Equal(t, 0, entries[0].Attempts)

	assert.True(t, store.Remove(ctx, id))
	entries, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.False(t, store.Remove(ctx, id), "second remove is a no-op")
}

func TestOutboxStore_MissingFileIsEmpty(t *testing.T) {
	store, _ := newStore(t)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.False(t, store.Remove(context.Background(), "nope"))
}

func TestOutboxStore_PreservesInsertionOrder(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	var ids []string
	for _, s := range []string{"first", "second", "third"} {
		id, err := store.Enqueue(ctx, samplePayload(s))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
	}
	assert.Equal(t, "second", entries[1].Payload.Subject)
}

func TestOutboxStore_FileFormat(t *testing.T) {
	store, path := newStore(t)
	_, err := store.Enqueue(context.Background(), samplePayload("Kits expiring"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Contains(t, raw[0], "id")
	assert.Contains(t, raw[0], "timestamp")
	assert.Contains(t, raw[0], "attempts")
	p := raw[0]["payload"].(map[string]any)
	assert.Equal(t, "Kits expiring", p["subject"])
	assert.Equal(t, float64(503), p["failureStatus"])
}

func TestOutboxStore_EnqueueOverCorruptFile(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	id, err := store.Enqueue(context.Background(), samplePayload("recovered"))
	require.NoError(t, err)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestOutboxStore_ListCorruptFileErrors(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o644))

	_, err := store.List(context.Background())
	assert.Error(t, err)
}

func TestOutboxStore_IncrementAttempts(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	id, err := store.Enqueue(ctx, samplePayload("retry me"))
	require.NoError(t, err)

	n, err := store.IncrementAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.IncrementAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, entries[0].Attempts)

	_, err = store.IncrementAttempts(ctx, "missing")
	assert.ErrorIs(t, err, domainErrors.ErrOutboxEntryNotFound)
}

func TestOutboxStore_ConcurrentEnqueue(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Enqueue(ctx, samplePayload("burst"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestOutboxStore_SizeObserver(t *testing.T) {
	var sizes []int
	path := filepath.Join(t.TempDir(), "outbox.json")
	store := NewOutboxStore(path, zerolog.Nop(), WithSizeObserver(func(n int) { sizes = append(sizes, n) }))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, samplePayload("a"))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, samplePayload("b"))
	require.NoError(t, err)
	store.Remove(ctx, id)

	assert.Equal(t, []int{1, 2, 1}, sizes)
}
