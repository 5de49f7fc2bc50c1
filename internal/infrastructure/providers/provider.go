package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 30 * time.Second

// Result holds the outcome of a successful provider call.
type Result struct {
	MessageID string
	Status    string // "sent", "queued"
}

// Provider is the interface that email transports implement.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// Send delivers one normalized message. Failures are *DeliveryError values.
	Send(ctx context.Context, payload *notification.Payload) (*Result, error)
}

// withTimeout derives the per-request deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// transportError turns a failure without a provider response into a
// DeliveryError. Aborts and deadlines become a retriable 408.
func transportError(provider string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domainErrors.NewDeliveryError(provider, http.StatusRequestTimeout, "", domainErrors.ErrProviderTimeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domainErrors.NewDeliveryError(provider, http.StatusRequestTimeout, "", domainErrors.ErrProviderTimeout)
	default:
		return domainErrors.NewDeliveryError(provider, 0, "", err)
	}
}
