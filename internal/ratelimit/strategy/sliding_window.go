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

// InMemorySlidingWindowStore counts requests inside a rolling window ending
// at "now". Unlike the fixed window it has no boundary burst: a key admitted
// limit times in any window-sized interval is denied until entries age out.
type InMemorySlidingWindowStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewInMemorySlidingWindowStore creates a new in-memory sliding window store.
func NewInMemorySlidingWindowStore() *InMemorySlidingWindowStore {
	return &InMemorySlidingWindowStore{
		windows: make(map[string]*slidingWindow),
	}
}

// Check prunes entries older than the window and admits if the remaining
// count is under the limit.
func (s *InMemorySlidingWindowStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		w = &slidingWindow{}
		s.windows[key] = w
	}
	w.prune(now, p.Window)

	if len(w.timestamps) < p.Limit {
		w.timestamps = append(w.timestamps, now)
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: p.Limit - len(w.timestamps),
			ResetAt:   w.timestamps[0].Add(p.Window),
		}, nil
	}

	resetAt := w.timestamps[0].Add(p.Window)
	retryAfter := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      p.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the window for a key.
func (s *InMemorySlidingWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// ResetPrefix clears every window whose key has the given prefix.
func (s *InMemorySlidingWindowStore) ResetPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.windows {
		if strings.HasPrefix(key, prefix) {
			delete(s.windows, key)
		}
	}
	return nil
}

// prune drops timestamps at or before the window cutoff. Entries are
// appended in time order, so the retained suffix is contiguous.
func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
