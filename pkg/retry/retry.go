package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
)

const maxLoggedMessage = 200

// Timer lets tests observe and short-circuit backoff waits.
type Timer = retry.Timer

// Config holds retry configuration
type Config struct {
	MaxRetries uint          // retries after the initial attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap for any single delay
	Logger     zerolog.Logger
	Timer      Timer
	OnRetry    func(attempt uint, err error)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Logger:     zerolog.Nop(),
	}
}

// Backoff returns the wait before retry n (n starts at 1):
// min(base * 2^(n-1), max).
func Backoff(n uint, base, max time.Duration) time.Duration {
	if n == 0 {
		return 0
	}
	d := base
	for i := uint(1); i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do executes fn with exponential backoff. Client errors (4xx other than
// 408 and 429) stop the loop immediately; anything else is retried until
// the attempt budget is spent, and the last error is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes a function with exponential backoff retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	logger := cfg.Logger
	attempts := cfg.MaxRetries + 1

	var attempt, retries uint
	op := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil {
			logger.Warn().
				Uint("attempt", attempt).
				Uint("max_attempts", attempts).
				Int("status", domainErrors.StatusCode(err)).
				Str("error", truncate(err.Error(), maxLoggedMessage)).
				Msg("Attempt failed")
			return result, err
		}
		if attempt > 1 {
			logger.Info().Uint("attempt", attempt).Msg("Succeeded after retry")
		}
		return result, nil
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !domainErrors.IsClientError(err)
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			retries++
			d := Backoff(retries, cfg.BaseDelay, cfg.MaxDelay)
			logger.Info().
				Uint("retry", retries).
				Dur("delay", d).
				Int("status", domainErrors.StatusCode(err)).
				Msg("Retrying")
			if cfg.OnRetry != nil {
				cfg.OnRetry(retries, err)
			}
			return d
		}),
	}
	if cfg.Timer != nil {
		opts = append(opts, retry.WithTimer(cfg.Timer))
	}

	result, err := retry.DoWithData(op, opts...)
	if err != nil {
		logger.Error().
			Uint("attempts", attempt).
			Int("status", domainErrors.StatusCode(err)).
			Bool("client_error", domainErrors.IsClientError(err)).
			Str("error", truncate(err.Error(), maxLoggedMessage)).
			Msg("Giving up")
		return result, err
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
