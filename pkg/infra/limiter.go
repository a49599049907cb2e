package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BackpressurePolicy defines limits.
type BackpressurePolicy struct {
	RPM   int
	TPM   int
	Burst int
}

// LimiterStore abstracts the storage for rate limiting buckets.
type LimiterStore interface {
	// Allow checks if the actor is allowed to perform an action costing 'cost'.
	// Returns true if allowed, false if rate limited.
	Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error)
}

// EvaluateBackpressure checks if the actor is permitted to proceed using the
// provided store. Fails closed when no store is configured.
func EvaluateBackpressure(ctx context.Context, store LimiterStore, actorID string, policy BackpressurePolicy) error {
	if store == nil {
		return fmt.Errorf("backpressure: no limiter store configured")
	}

	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("backpressure check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("backpressure: rate limit exceeded for %s", actorID)
	}
	return nil
}

// InMemoryLimiterStore is the single-instance limiter, backed by
// golang.org/x/time/rate, one bucket per actor. Suitable for single-process
// deployments; a multi-instance deployment should use RedisLimiterStore
// instead.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{
		buckets: make(map[string]*rate.Limiter),
	}
}

func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	s.mu.Lock()
	limiter, exists := s.buckets[actorID]
	if !exists {
		rps := float64(policy.RPM) / 60.0
		if rps <= 0 {
			rps = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
		s.buckets[actorID] = limiter
	}
	s.mu.Unlock()

	return limiter.AllowN(time.Now(), cost), nil
}
