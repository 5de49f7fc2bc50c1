package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix = "kitwatch:idempotency:"
	reservationSuffix = ":inflight"

	// DefaultReservationTTL bounds how long a crashed request can block its
	// key. It must outlive the slowest send route, bulk included.
	DefaultReservationTTL = 6 * time.Minute
)

// IdempotencyStore keeps replayable responses for POST requests carrying an
// Idempotency-Key header.
type IdempotencyStore struct {
	client         *redis.Client
	ttl            time.Duration
	reservationTTL time.Duration
}

type StoreOption func(*IdempotencyStore)

// WithReservationTTL sets how long an in-flight key stays reserved.
// Non-positive values keep the default.
func WithReservationTTL(d time.Duration) StoreOption {
	return func(s *IdempotencyStore) {
		if d > 0 {
			s.reservationTTL = d
		}
	}
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration, opts ...StoreOption) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &IdempotencyStore{client: client, ttl: ttl, reservationTTL: DefaultReservationTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the stored response for key. The boolean is false when
// nothing was stored or the entry expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency entry: %w", err)
	}
	return val, true, nil
}

// Reserve marks key as in flight. It returns false when another request
// holds the reservation.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyPrefix+key+reservationSuffix, "1", s.reservationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Save stores the response and drops the reservation in one round trip.
func (s *IdempotencyStore) Save(ctx context.Context, key string, response []byte) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, idempotencyPrefix+key, response, s.ttl)
		p.Del(ctx, idempotencyPrefix+key+reservationSuffix)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save idempotency entry: %w", err)
	}
	return nil
}

// Release drops the reservation without storing a response.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyPrefix+key+reservationSuffix).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
