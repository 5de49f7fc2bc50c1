package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxIdempotencyBodySize = 1 << 20

// IdempotencyStore is implemented by the Redis-backed response cache.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Reserve(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, response []byte) error
	Release(ctx context.Context, key string) error
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key so
// that a retried POST does not send the same mail twice. Keys are scoped by
// method and path. A store outage lets the request through.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Idempotency-Key")
			if header == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := r.Method + ":" + r.URL.Path + ":" + header

			raw, found, err := store.Get(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", header).Msg("Idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if found {
				var resp storedResponse
				if err := json.Unmarshal(raw, &resp); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Replayed", "true")
					w.WriteHeader(resp.Status)
					w.Write(resp.Body)
					return
				}
			}

			reserved, err := store.Reserve(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", header).Msg("Idempotency reservation failed")
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress", "request_in_progress")
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Server errors and oversized bodies are not replayed.
			if rec.statusCode >= 500 || rec.bodyTruncated || !json.Valid(rec.body.Bytes()) {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn().Err(err).Str("key", header).Msg("Idempotency release failed")
				}
				return
			}
			payload, _ := json.Marshal(storedResponse{Status: rec.statusCode, Body: rec.body.Bytes()})
			if err := store.Save(context.WithoutCancel(ctx), key, payload); err != nil {
				log.Warn().Err(err).Str("key", header).Msg("Idempotency save failed")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
