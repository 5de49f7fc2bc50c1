package inventory

import (
	"context"
	"time"
)

// Item is one material in a first-aid kit.
type Item struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Kit         string     `json:"kit"`
	Location    string     `json:"location"`
	Quantity    int        `json:"quantity"`
	MinQuantity int        `json:"minQuantity"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Repository is the read side the report job needs.
type Repository interface {
	// DueForPeriod returns items expiring in [from, to).
	DueForPeriod(ctx context.Context, from, to time.Time) ([]*Item, error)
	// ZeroStock returns items with nothing left.
	ZeroStock(ctx context.Context) ([]*Item, error)
}
