package providers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

const MockName = "mock"

// MockProvider simulates a transactional email API for local runs.
type MockProvider struct {
	name          string
	failureRate   float64 // 0.0 to 1.0
	failureStatus int
	latency       time.Duration
	timeoutRate   float64 // 0.0 to 1.0
	calls         atomic.Int64
}

type MockProviderOption func(*MockProvider)

func WithFailureRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.failureRate = rate }
}

// WithFailureStatus sets the status reported by simulated failures.
func WithFailureStatus(status int) MockProviderOption {
	return func(p *MockProvider) { p.failureStatus = status }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:          name,
		failureStatus: http.StatusServiceUnavailable,
		latency:       50 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

// Calls returns how many times Send was invoked.
func (p *MockProvider) Calls() int64 { return p.calls.Load() }

func (p *MockProvider) Send(ctx context.Context, payload *notification.Payload) (*Result, error) {
	p.calls.Add(1)

	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, transportError(p.name, ctx.Err())
	}

	if rand.Float64() < p.timeoutRate {
		return nil, domainErrors.NewDeliveryError(p.name, http.StatusRequestTimeout, "", domainErrors.ErrProviderTimeout)
	}

	if rand.Float64() < p.failureRate {
		body := fmt.Sprintf(`{"message":"simulated failure for %d recipient(s)"}`, len(payload.To))
		return nil, domainErrors.NewDeliveryError(p.name, p.failureStatus, body, nil)
	}

	return &Result{
		MessageID: fmt.Sprintf("<%s@%s.mock>", uuid.New().String(), p.name),
		Status:    "sent",
	}, nil
}
