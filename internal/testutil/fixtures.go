package testutil

import (
	"time"

	"github.com/kitwatch/notifier/internal/domain/inventory"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

// TestSettings is a fully configured sender identity.
func TestSettings() notification.Settings {
	return notification.Settings{
		SenderEmail:   "kits@example.org",
		SenderName:    "Kitwatch",
		ReplyTo:       "desk@example.org",
		DefaultTags:   []string{"kitwatch"},
		Provider:      "mock",
		HasCredential: true,
	}
}

func NewTestMessage(to ...string) notification.Message {
	rs := make(notification.Recipients, len(to))
	for i, e := range to {
		rs[i] = notification.Address{Email: e}
	}
	return notification.Message{
		To:      rs,
		Subject: "First-aid kit check",
		HTML:    "<p>Two items expire this month.</p>",
		Text:    "Two items expire this month.",
		Tags:    []string{"test"},
	}
}

func NewTestItem(id int64, name string, qty int, expires *time.Time) *inventory.Item {
	return &inventory.Item{
		ID:          id,
		Name:        name,
		Kit:         "Kit A",
		Location:    "Workshop",
		Quantity:    qty,
		MinQuantity: 1,
		ExpiresAt:   expires,
	}
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
