// Package strategy implements the windowing algorithms behind admission
// checks. Each store keeps per-key state guarded by a store-wide lock; a
// check is one critical section, so concurrent checks for the same key never
// both consume the last slot.
package strategy

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	"gatekeeper/pkg/requestcontext"
)

// InMemoryTokenBucketStore implements the token bucket algorithm: a bucket of
// capacity tokens refilling continuously at limit/window tokens per second.
// Bursts up to capacity are absorbed; sustained traffic converges on the
// refill rate.
type InMemoryTokenBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewInMemoryTokenBucketStore creates a new in-memory token bucket store.
func NewInMemoryTokenBucketStore() *InMemoryTokenBucketStore {
	return &InMemoryTokenBucketStore{
		buckets: make(map[string]*tokenBucket),
	}
}

// Check refills the key's bucket for the elapsed time and consumes one token
// if available.
func (s *InMemoryTokenBucketStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)
	capacity := float64(p.Capacity())
	refillRate := float64(p.Limit) / p.Window.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b == nil {
		b = &tokenBucket{tokens: capacity, lastRefill: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*refillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     p.Capacity(),
			Remaining: int(math.Floor(b.tokens)),
			ResetAt:   now.Add(p.Window),
		}, nil
	}

	wait := time.Duration((1 - b.tokens) / refillRate * float64(time.Second))
	retryAfter := int(math.Ceil(wait.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      p.Capacity(),
		Remaining:  0,
		ResetAt:    now.Add(wait),
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the bucket for a key.
func (s *InMemoryTokenBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// ResetPrefix clears every bucket whose key has the given prefix.
func (s *InMemoryTokenBucketStore) ResetPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.buckets {
		if strings.HasPrefix(key, prefix) {
			delete(s.buckets, key)
		}
	}
	return nil
}
