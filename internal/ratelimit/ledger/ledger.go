// Package ledger keeps the recent denial history and running admission
// counters. The history is a capped ring buffer; counters and buffer are
// guarded by one lock so a stats reset is atomic relative to concurrent
// checks.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/ratelimit/models"
)

// DefaultCapacity bounds the ring buffer when no capacity is configured.
const DefaultCapacity = 1000

// topBlockedSize is how many offenders GetStats ranks.
const topBlockedSize = 10

// Ledger records denials and aggregates admission statistics.
type Ledger struct {
	mu       sync.Mutex
	records  []*models.BlockedRequestRecord // ring buffer
	head     int                            // next write position
	size     int
	capacity int

	totalRequests   int64
	allowedRequests int64
	blockedRequests int64
}

// New creates a ledger with the given ring buffer capacity; zero or negative
// falls back to DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		records:  make([]*models.BlockedRequestRecord, capacity),
		capacity: capacity,
	}
}

// RecordAllowed counts an admitted request.
func (l *Ledger) RecordAllowed(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalRequests++
	l.allowedRequests++
}

// RecordBlocked counts a denial and appends it to the history, evicting the
// oldest entry when full.
func (l *Ledger) RecordBlocked(_ context.Context, record *models.BlockedRequestRecord) {
	if record == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRequests++
	l.blockedRequests++

	l.records[l.head] = record
	l.head = (l.head + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
}

// GetBlockedRequests returns denials most-recent-first, optionally filtered
// by time and scope. A nil since means no time filter; a zero limit (or one
// above the retained count) returns everything retained.
func (l *Ledger) GetBlockedRequests(_ context.Context, since *time.Time, scope models.Scope, limit int) []*models.BlockedRequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.BlockedRequestRecord, 0, l.size)
	for i := 1; i <= l.size; i++ {
		record := l.records[(l.head-i+l.capacity)%l.capacity]
		if since != nil && record.BlockedAt.Before(*since) {
			continue
		}
		if scope != "" && record.Scope != scope {
			continue
		}
		out = append(out, record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// GetStats returns the running totals, the derived block rate and the
// top offenders ranked by denial count within the retained history.
func (l *Ledger) GetStats(_ context.Context) *models.RateLimitStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &models.RateLimitStats{
		TotalRequests:   l.totalRequests,
		AllowedRequests: l.allowedRequests,
		BlockedRequests: l.blockedRequests,
		TopBlocked:      []models.BlockedIdentifier{},
	}
	if l.totalRequests > 0 {
		stats.BlockRate = float64(l.blockedRequests) / float64(l.totalRequests) * 100
	}

	counts := make(map[string]int)
	for i := 1; i <= l.size; i++ {
		record := l.records[(l.head-i+l.capacity)%l.capacity]
		counts[record.Identifier]++
	}
	for identifier, count := range counts {
		stats.TopBlocked = append(stats.TopBlocked, models.BlockedIdentifier{Identifier: identifier, Count: count})
	}
	sort.Slice(stats.TopBlocked, func(i, j int) bool {
		if stats.TopBlocked[i].Count != stats.TopBlocked[j].Count {
			return stats.TopBlocked[i].Count > stats.TopBlocked[j].Count
		}
		return stats.TopBlocked[i].Identifier < stats.TopBlocked[j].Identifier
	})
	if len(stats.TopBlocked) > topBlockedSize {
		stats.TopBlocked = stats.TopBlocked[:topBlockedSize]
	}

	return stats
}

// Reset zeroes the counters and clears the history in one step.
func (l *Ledger) Reset(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRequests = 0
	l.allowedRequests = 0
	l.blockedRequests = 0
	l.records = make([]*models.BlockedRequestRecord, l.capacity)
	l.head = 0
	l.size = 0
}
