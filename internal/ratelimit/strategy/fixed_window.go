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

// InMemoryFixedWindowStore counts requests inside discrete, epoch-aligned
// windows. Cheapest of the three strategies; a caller can burst up to 2x the
// limit across a window boundary, which is acceptable for coarse ceilings.
type InMemoryFixedWindowStore struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count       int
	windowStart int64 // unix millis, always a multiple of the window
}

// NewInMemoryFixedWindowStore creates a new in-memory fixed window store.
func NewInMemoryFixedWindowStore() *InMemoryFixedWindowStore {
	return &InMemoryFixedWindowStore{
		windows: make(map[string]*fixedWindow),
	}
}

// Check rolls the key to the current window if needed and admits while the
// window's count is under the limit.
func (s *InMemoryFixedWindowStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)
	nowMs := now.UnixMilli()
	windowMs := p.Window.Milliseconds()
	windowStart := (nowMs / windowMs) * windowMs

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		w = &fixedWindow{windowStart: windowStart}
		s.windows[key] = w
	}
	if w.windowStart != windowStart {
		w.windowStart = windowStart
		w.count = 0
	}

	resetAt := time.UnixMilli(windowStart + windowMs)

	if w.count < p.Limit {
		w.count++
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: p.Limit - w.count,
			ResetAt:   resetAt,
		}, nil
	}

	retryAfter := int(math.Ceil(float64(windowStart+windowMs-nowMs) / 1000))
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
func (s *InMemoryFixedWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// ResetPrefix clears every window whose key has the given prefix.
func (s *InMemoryFixedWindowStore) ResetPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.windows {
		if strings.HasPrefix(key, prefix) {
			delete(s.windows, key)
		}
	}
	return nil
}
