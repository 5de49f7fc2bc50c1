package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/infrastructure/config"
	"github.com/kitwatch/notifier/internal/infrastructure/observability"
)

type Factory struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Result]
	breakerTimeout  time.Duration
	metrics         *observability.Metrics
}

type FactoryOption func(*Factory)

// WithBreakerTimeout sets how long a tripped breaker stays open.
func WithBreakerTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.breakerTimeout = d }
}

// WithMetrics reports breaker state changes and outcomes.
func WithMetrics(m *observability.Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		providers:       make(map[string]Provider),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
		breakerTimeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Factory) Register(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := p.Name()
	f.providers[name] = p
	f.circuitBreakers[name] = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     f.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// A rejected message says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || domainErrors.IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.metrics != nil {
				f.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// Get returns the named provider guarded by its circuit breaker.
func (f *Factory) Get(name string) (Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return &guardedProvider{
		Provider: p,
		breaker:  f.circuitBreakers[name],
		metrics:  f.metrics,
	}, nil
}

// Names lists registered providers.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.providers))
	for n := range f.providers {
		names = append(names, n)
	}
	return names
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker[*Result]
	metrics *observability.Metrics
}

func (g *guardedProvider) Send(ctx context.Context, payload *notification.Payload) (*Result, error) {
	res, err := g.breaker.Execute(func() (*Result, error) {
		return g.Provider.Send(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.record("rejected")
		return nil, domainErrors.NewDeliveryError(g.Name(), http.StatusServiceUnavailable, "circuit breaker open", domainErrors.ErrProviderUnavailable)
	}
	if err != nil {
		g.record("failure")
		return nil, err
	}
	g.record("success")
	return res, nil
}

func (g *guardedProvider) record(result string) {
	if g.metrics != nil {
		g.metrics.CircuitBreakerRequests.WithLabelValues(g.Name(), result).Inc()
	}
}

// New builds the single transport selected by cfg.Provider.
func New(cfg *config.MailConfig, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case BrevoName:
		return NewBrevoProvider(BrevoConfig{
			APIKey:  cfg.Brevo.APIKey,
			BaseURL: cfg.Brevo.BaseURL,
			Timeout: cfg.RequestTimeout,
		}, nil, logger), nil
	case SMTPName:
		return NewSMTPProvider(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.RequestTimeout,
		}, logger), nil
	case ResendName:
		return NewResendProvider(ResendConfig{
			APIKey:  cfg.Resend.APIKey,
			BaseURL: cfg.Resend.BaseURL,
			Timeout: cfg.RequestTimeout,
		}, nil, logger), nil
	case MockName:
		return NewMockProvider(MockName), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", cfg.Provider, domainErrors.ErrProviderNotFound)
	}
}

// NewFromConfig registers the configured provider and returns it behind
// its breaker. The selection happens once; callers never branch on names.
func NewFromConfig(cfg *config.MailConfig, logger zerolog.Logger, metrics *observability.Metrics) (Provider, error) {
	p, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []FactoryOption{WithMetrics(metrics)}
	if cfg.CircuitBreakerTimeout > 0 {
		opts = append(opts, WithBreakerTimeout(cfg.CircuitBreakerTimeout))
	}
	f := NewFactory(opts...)
	f.Register(p)

	logger.Info().Str("provider", p.Name()).Msg("Email provider selected")
	return f.Get(p.Name())
}
