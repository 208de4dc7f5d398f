package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "gatekeeper/pkg/domain-errors"
)

type ModelsSuite struct {
	suite.Suite
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) TestParseEnums() {
	s.Run("scope", func() {
		scope, err := ParseScope("api_key")
		s.NoError(err)
		s.Equal(ScopeAPIKey, scope)

		_, err = ParseScope("household")
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))

		_, err = ParseScope("")
		s.Error(err)
	})

	s.Run("strategy set is closed", func() {
		for _, raw := range []string{"token_bucket", "sliding_window", "fixed_window"} {
			_, err := ParseStrategy(raw)
			s.NoError(err)
		}
		_, err := ParseStrategy("leaky_bucket")
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("empty tier means no scaling", func() {
		tier, err := ParseTier("")
		s.NoError(err)
		s.Equal(Tier(""), tier)

		_, err = ParseTier("platinum")
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *ModelsSuite) TestNewRateLimitConfig() {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("valid config gets id and timestamps", func() {
		rule, err := NewRateLimitConfig("per-ip", ScopeIP, StrategyFixedWindow, 100, time.Minute, now)
		s.NoError(err)
		s.NotEmpty(rule.ID)
		s.True(rule.Enabled)
		s.Equal(now, rule.CreatedAt)
	})

	s.Run("invariants are enforced", func() {
		_, err := NewRateLimitConfig("", ScopeIP, StrategyFixedWindow, 100, time.Minute, now)
		s.Equal(dErrors.CodeInvariantViolation, dErrors.CodeOf(err))

		_, err = NewRateLimitConfig("x", ScopeIP, StrategyFixedWindow, 0, time.Minute, now)
		s.Equal(dErrors.CodeInvariantViolation, dErrors.CodeOf(err))

		_, err = NewRateLimitConfig("x", ScopeIP, StrategyFixedWindow, 100, 0, now)
		s.Equal(dErrors.CodeInvariantViolation, dErrors.CodeOf(err))
	})
}

func (s *ModelsSuite) TestEndpointMatching() {
	rule := &RateLimitConfig{Endpoints: []string{"/auth", "/auth/login"}}

	s.True(rule.MatchesEndpoint("/auth/login"))
	s.True(rule.MatchesEndpoint("/auth/password-reset"))
	s.False(rule.MatchesEndpoint("/v1/widgets"))

	s.Equal(len("/auth/login"), rule.LongestEndpointMatch("/auth/login/submit"))
	s.Equal(len("/auth"), rule.LongestEndpointMatch("/auth/register"))
	s.Equal(0, rule.LongestEndpointMatch("/v1/widgets"))
}

func (s *ModelsSuite) TestCompositeKeys() {
	s.Run("segments are sanitized against delimiter injection", func() {
		s.Equal("user:admin_1", CompositeKey(ScopeUser, "admin:1"))
	})

	s.Run("scope prefix covers its keys", func() {
		key := CompositeKey(ScopeIP, "1.2.3.4")
		prefix := ScopeKeyPrefix(ScopeIP)
		s.True(len(key) > len(prefix) && key[:len(prefix)] == prefix)
	})
}

func (s *ModelsSuite) TestEffectiveLimit() {
	s.Run("tier baseline caps the configured limit", func() {
		s.Equal(60, EffectiveLimit(300, TierFree))
	})

	s.Run("configured limit wins when smaller", func() {
		s.Equal(5, EffectiveLimit(5, TierEnterprise))
	})

	s.Run("unlimited sentinel never wins the min", func() {
		s.Equal(300, EffectiveLimit(300, TierUnlimited))
	})

	s.Run("unknown tier leaves the limit untouched", func() {
		s.Equal(300, EffectiveLimit(300, Tier("")))
	})
}

func (s *ModelsSuite) TestTierTableMonotonicity() {
	limits := AllTierLimits()
	for i := 1; i < len(limits); i++ {
		s.GreaterOrEqual(limits[i].Requests, limits[i-1].Requests, "tier %s", limits[i].Tier)
	}
}

func (s *ModelsSuite) TestQuotaUsage() {
	usage := &QuotaUsage{Used: 8, Limit: 10}
	s.Equal(int64(2), usage.Remaining())
	s.False(usage.Exceeded())

	usage.Used = 10
	s.Equal(int64(0), usage.Remaining())
	s.True(usage.Exceeded())

	usage.Used = 12
	s.Equal(int64(0), usage.Remaining())
}
