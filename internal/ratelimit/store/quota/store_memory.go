// Package quota implements usage-counter storage for billing-period quotas.
package quota

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/pkg/requestcontext"
)

// InMemoryQuotaStore keeps quota counters keyed by (identifier, scope,
// period). Counters reset lazily: an expired record is replaced on the next
// read or increment instead of by a background sweep.
type InMemoryQuotaStore struct {
	mu     sync.Mutex
	usages map[string]*models.QuotaUsage
}

// NewInMemoryQuotaStore creates a new in-memory quota store.
func NewInMemoryQuotaStore() *InMemoryQuotaStore {
	return &InMemoryQuotaStore{
		usages: make(map[string]*models.QuotaUsage),
	}
}

// Get returns the current usage for the key, lazily resetting an expired
// period.
func (s *InMemoryQuotaStore) Get(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod) (*models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.current(ctx, identifier, scope, tier, period)
	clone := *usage
	return &clone, nil
}

// Increment adds amount to the usage counter and returns the updated record.
func (s *InMemoryQuotaStore) Increment(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod, amount int64) (*models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.current(ctx, identifier, scope, tier, period)
	usage.Used += amount
	clone := *usage
	return &clone, nil
}

// Reset clears the counter for one (identifier, scope, period).
func (s *InMemoryQuotaStore) Reset(_ context.Context, identifier string, scope models.Scope, period models.QuotaPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usages, usageKey(identifier, scope, period))
	return nil
}

// current returns the live (mutable) record for the key, creating or
// resetting it as needed. Must be called while holding s.mu.
func (s *InMemoryQuotaStore) current(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod) *models.QuotaUsage {
	now := requestcontext.Now(ctx)
	key := usageKey(identifier, scope, period)

	usage := s.usages[key]
	if usage == nil || !now.Before(usage.ResetAt) {
		usage = &models.QuotaUsage{
			Identifier: identifier,
			Scope:      scope,
			Tier:       tier,
			Period:     period,
			Used:       0,
			Limit:      quotaLimit(tier, period),
			ResetAt:    NextReset(period, now),
		}
		s.usages[key] = usage
	}
	return usage
}

func usageKey(identifier string, scope models.Scope, period models.QuotaPeriod) string {
	return models.CompositeKey(scope, identifier) + ":" + period.String()
}

func quotaLimit(tier models.Tier, period models.QuotaPeriod) int64 {
	limits, ok := models.LimitsForTier(tier)
	if !ok {
		return models.UnlimitedQuota
	}
	return limits.Quota.ForPeriod(period)
}

// NextReset returns the end of the period containing now. Periods are
// calendar-aligned except minute, which is a plain 60s horizon: billing
// views care about "today" and "this month", not arbitrary rolling windows.
func NextReset(period models.QuotaPeriod, now time.Time) time.Time {
	switch period {
	case models.PeriodMinute:
		return now.Add(time.Minute)
	case models.PeriodHour:
		return now.Truncate(time.Hour).Add(time.Hour)
	case models.PeriodDay:
		year, month, day := now.Date()
		return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
	case models.PeriodMonth:
		year, month, _ := now.Date()
		return time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location())
	}
	return now.Add(time.Minute)
}
