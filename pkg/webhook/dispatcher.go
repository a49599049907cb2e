// Package webhook delivers signed event notifications (agreement lifecycle
// events) to agent-registered callback URLs. Deliver makes a single
// attempt; NextAttemptDelay and MaxAttempts describe a deterministic
// backoff schedule, built on the same retry package as the seal worker,
// for a caller that retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/infra/retry"
)

const (
	deliveryTimeout = 10 * time.Second
	maxAttempts     = 6
)

var backoffPolicy = retry.BackoffPolicy{
	PolicyID:    "webhook_delivery_v1",
	BaseMs:      500,
	MaxMs:       30_000,
	MaxJitterMs: 250,
	MaxAttempts: maxAttempts,
}

// Event is one outbound webhook notification. EventID is sent in the
// X-OCP-Webhook-Event-Id header and doubles as the idempotency key a
// receiver can use to de-duplicate redelivered events.
type Event struct {
	EventID   string         `json:"event_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Dispatcher POSTs events to a target URL, HMAC-SHA256-signing the
// canonical JSON body with the target's registered secret. It does not
// retry a failed delivery by itself.
type Dispatcher struct {
	http *http.Client
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{http: &http.Client{Timeout: deliveryTimeout}}
}

// Deliver attempts one delivery and reports whether the receiver
// acknowledged with a 2xx. It does not retry; NextAttemptDelay gives the
// delay before a further attempt.
func (d *Dispatcher) Deliver(ctx context.Context, targetURL, secret string, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	body, err := canonicalize.JCS(event)
	if err != nil {
		return fmt.Errorf("webhook: canonicalize event: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OCP-Signature", signature)
	req.Header.Set("X-OCP-Webhook-Event-Id", event.EventID)
	if reqID := auth.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: delivery failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: receiver returned status %d", resp.StatusCode)
	}
	return nil
}

// NextAttemptDelay returns how long to wait before attemptIndex (0-based)
// for an event, deterministically seeded by the event id so test replays
// reproduce the same delivery schedule.
func NextAttemptDelay(eventID string, attemptIndex int) time.Duration {
	return retry.ComputeBackoff(retry.BackoffParams{
		PolicyID:     backoffPolicy.PolicyID,
		AdapterID:    "webhook",
		EffectID:     eventID,
		AttemptIndex: attemptIndex,
	}, backoffPolicy)
}

// MaxAttempts is the number of delivery attempts before an event is
// abandoned and left for manual inspection.
func MaxAttempts() int { return maxAttempts }
