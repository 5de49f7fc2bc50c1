package outbox

import "context"

type Repository interface {
	// Enqueue appends a new entry and returns its id
	Enqueue(ctx context.Context, payload Payload) (string, error)

	// List returns all entries in insertion order
	List(ctx context.Context) ([]*Entry, error)

	// Remove deletes the entry with the given id and reports whether it was
	// present. Failures are logged by the store, never returned.
	Remove(ctx context.Context, id string) bool

	// IncrementAttempts bumps the flush attempt counter and returns the new value
	IncrementAttempts(ctx context.Context, id string) (int, error)
}
