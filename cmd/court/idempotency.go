package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/store"
)

// responseCapture buffers a handler's response so it can be persisted
// verbatim to the durable store for idempotent replay.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	c.statusCode = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotent claims the request's Idempotency-Key against the durable
// store before running next, and replays the completed response verbatim
// on a repeat delivery. A repeat with a different body hash is rejected as
// a conflict by IdempotencyRepo.Claim; requests without the header pass
// through unclaimed.
func (s *server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			api.WriteBadRequest(w, "unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		agentID := "anonymous"
		if id, err := auth.GetIdentity(r.Context()); err == nil {
			agentID = id.AgentID
		}
		requestHash := canonicalize.HashBytes(body)

		now := time.Now()
		claimed, err := s.idempotency.Claim(r.Context(), &contracts.IdempotencyRecord{
			Key: key, AgentID: agentID, RequestHash: requestHash, CreatedAt: now,
		})
		if err != nil {
			if err == store.ErrIdempotencyConflict {
				api.WriteConflict(w, "idempotency key reused with a different request body")
				return
			}
			api.WriteInternal(w, err)
			return
		}
		if claimed.Status == contracts.IdempotencyCompleted {
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(claimed.ResponseCode)
			_, _ = w.Write([]byte(claimed.ResponseBody))
			return
		}

		capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(capture, r.WithContext(withIdempotencyKey(r.Context(), key)))

		if err := s.idempotency.Complete(r.Context(), key, capture.statusCode, capture.body.String(), time.Now()); err != nil {
			s.log.Error("idempotency: complete failed", "key", key, "error", err)
		}
	})
}

type idempotencyKeyCtx struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// newRequestID mints a random UUID string.
func newRequestID() string { return uuid.NewString() }
