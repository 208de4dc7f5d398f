package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/pkg/requestcontext"
)

type InMemoryQuotaStoreSuite struct {
	suite.Suite
	store *InMemoryQuotaStore
}

func TestInMemoryQuotaStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryQuotaStoreSuite))
}

func (s *InMemoryQuotaStoreSuite) SetupTest() {
	s.store = NewInMemoryQuotaStore()
}

func (s *InMemoryQuotaStoreSuite) TestGet() {
	fixedTime := time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixedTime)

	s.Run("first read creates a zeroed record with the tier limit", func() {
		usage, err := s.store.Get(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodHour)
		s.NoError(err)
		s.Equal(int64(0), usage.Used)
		s.Equal(int64(1000), usage.Limit)
		s.Equal(time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC), usage.ResetAt)
	})

	s.Run("read does not consume", func() {
		usage, err := s.store.Get(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodHour)
		s.NoError(err)
		s.Equal(int64(0), usage.Used)
	})

	s.Run("unknown tier gets the unlimited sentinel", func() {
		usage, err := s.store.Get(ctx, "bob", models.ScopeUser, models.Tier(""), models.PeriodDay)
		s.NoError(err)
		s.Equal(models.UnlimitedQuota, usage.Limit)
		s.False(usage.Exceeded())
	})
}

func (s *InMemoryQuotaStoreSuite) TestIncrement() {
	fixedTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixedTime)

	s.Run("increments accumulate within a period", func() {
		usage, err := s.store.Increment(ctx, "key-1", models.ScopeAPIKey, models.TierBasic, models.PeriodMinute, 1)
		s.NoError(err)
		s.Equal(int64(1), usage.Used)

		usage, err = s.store.Increment(ctx, "key-1", models.ScopeAPIKey, models.TierBasic, models.PeriodMinute, 5)
		s.NoError(err)
		s.Equal(int64(6), usage.Used)
		s.Equal(usage.Limit-6, usage.Remaining())
	})

	s.Run("exceeded once used reaches the limit", func() {
		limits, ok := models.LimitsForTier(models.TierFree)
		s.Require().True(ok)

		usage, err := s.store.Increment(ctx, "hog", models.ScopeUser, models.TierFree, models.PeriodMinute, limits.Quota.Minute)
		s.NoError(err)
		s.True(usage.Exceeded())
		s.Equal(int64(0), usage.Remaining())
	})
}

func (s *InMemoryQuotaStoreSuite) TestLazyReset() {
	start := time.Date(2024, 6, 15, 12, 0, 30, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), start)

	_, err := s.store.Increment(ctx, "alice", models.ScopeUser, models.TierPro, models.PeriodMinute, 10)
	s.Require().NoError(err)

	s.Run("before reset the counter persists", func() {
		later := requestcontext.WithTime(context.Background(), start.Add(30*time.Second))
		usage, err := s.store.Get(later, "alice", models.ScopeUser, models.TierPro, models.PeriodMinute)
		s.NoError(err)
		s.Equal(int64(10), usage.Used)
	})

	s.Run("after reset the counter starts fresh", func() {
		later := requestcontext.WithTime(context.Background(), start.Add(61*time.Second))
		usage, err := s.store.Get(later, "alice", models.ScopeUser, models.TierPro, models.PeriodMinute)
		s.NoError(err)
		s.Equal(int64(0), usage.Used)
		s.Equal(start.Add(61*time.Second).Add(time.Minute), usage.ResetAt)
	})
}

func (s *InMemoryQuotaStoreSuite) TestPeriodsAreIndependent() {
	fixedTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixedTime)

	_, err := s.store.Increment(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodMinute, 3)
	s.Require().NoError(err)

	day, err := s.store.Get(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodDay)
	s.NoError(err)
	s.Equal(int64(0), day.Used)
}

func (s *InMemoryQuotaStoreSuite) TestReset() {
	fixedTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixedTime)

	_, err := s.store.Increment(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodHour, 7)
	s.Require().NoError(err)

	s.NoError(s.store.Reset(ctx, "alice", models.ScopeUser, models.PeriodHour))

	usage, err := s.store.Get(ctx, "alice", models.ScopeUser, models.TierFree, models.PeriodHour)
	s.NoError(err)
	s.Equal(int64(0), usage.Used)
}

func (s *InMemoryQuotaStoreSuite) TestNextReset() {
	s.Run("minute is a plain 60s horizon", func() {
		now := time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC)
		s.Equal(now.Add(time.Minute), NextReset(models.PeriodMinute, now))
	})

	s.Run("hour aligns to the top of the next hour", func() {
		now := time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC)
		s.Equal(time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC), NextReset(models.PeriodHour, now))
	})

	s.Run("day aligns to next midnight", func() {
		now := time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)
		s.Equal(time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), NextReset(models.PeriodDay, now))
	})

	s.Run("month aligns to the first of the next month", func() {
		now := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)
		s.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextReset(models.PeriodMonth, now))
	})

	s.Run("month rollover handles short months", func() {
		now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
		s.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), NextReset(models.PeriodMonth, now))
	})
}
