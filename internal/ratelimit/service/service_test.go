package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/ratelimit/config"
	"gatekeeper/internal/ratelimit/ledger"
	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/registry"
	quotaservice "gatekeeper/internal/ratelimit/service/quota"
	quotastore "gatekeeper/internal/ratelimit/store/quota"
	"gatekeeper/internal/ratelimit/strategy"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	seedTime := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	reg, err := registry.New(config.DefaultConfig(seedTime).DefaultRules)
	s.Require().NoError(err)

	quota, err := quotaservice.New(quotastore.NewInMemoryQuotaStore())
	s.Require().NoError(err)

	service, err := New(reg, strategy.NewSelector(), quota, ledger.New(ledger.DefaultCapacity))
	s.Require().NoError(err)
	s.service = service
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil dependencies are rejected", func() {
		_, err := New(nil, strategy.NewSelector(), nil, nil)
		s.Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestCheckRateLimit() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("denial is a result, not an error", func() {
		low := 2
		_, err := s.service.UpdateConfig(s.at(base), config.RuleIP, &models.UpdateConfigRequest{Requests: &low})
		s.Require().NoError(err)

		for i := range 2 {
			result, err := s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/widgets")
			s.NoError(err)
			s.True(result.Allowed, "request %d", i)
		}

		result, err := s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/widgets")
		s.NoError(err)
		s.False(result.Allowed)
		s.Positive(result.RetryAfter)
		s.Contains(result.Policy, "sliding_window")
	})

	s.Run("unmatched scope fails open", func() {
		result, err := s.service.CheckRateLimit(s.at(base), "/v1/widgets", models.ScopeEndpoint, "", "/v1/widgets")
		s.NoError(err)
		s.True(result.Allowed)
		s.Equal("unlimited", result.Policy)
	})

	s.Run("empty identifier is rejected", func() {
		_, err := s.service.CheckRateLimit(s.at(base), "", models.ScopeIP, "", "")
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestEndpointPrecedence() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// The auth endpoint rule (5 per 15m) must shadow the broad IP rule
	// (100 per minute) on /auth/login.
	denied := 0
	for range 6 {
		result, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.NoError(err)
		if !result.Allowed {
			denied++
		}
	}
	s.Equal(1, denied)

	// Outside the auth endpoints the broad rule still allows.
	result, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/v1/widgets")
	s.NoError(err)
	s.True(result.Allowed)
}

func (s *ServiceSuite) TestPenaltyOverride() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	for range 5 {
		_, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.Require().NoError(err)
	}

	result, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
	s.NoError(err)
	s.False(result.Allowed)

	// The auth rule carries a one hour penalty; the natural window reset
	// (15m) must be replaced by it.
	s.Equal(3600, result.RetryAfter)
	s.Equal(base.Add(time.Hour), result.ResetAt)
}

func (s *ServiceSuite) TestPenaltyLockoutPersists() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	for range 6 {
		_, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.Require().NoError(err)
	}

	s.Run("denied after the fixed window rolls", func() {
		result, err := s.service.CheckRateLimit(s.at(base.Add(16*time.Minute)), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.NoError(err)
		s.False(result.Allowed)
		s.Equal(44*60, result.RetryAfter)
		s.Equal(base.Add(time.Hour), result.ResetAt)
	})

	s.Run("other keys are unaffected", func() {
		result, err := s.service.CheckRateLimit(s.at(base.Add(16*time.Minute)), "5.5.5.5", models.ScopeIP, "", "/auth/login")
		s.NoError(err)
		s.True(result.Allowed)
	})

	s.Run("admitted once the penalty expires", func() {
		result, err := s.service.CheckRateLimit(s.at(base.Add(time.Hour+time.Second)), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.NoError(err)
		s.True(result.Allowed)
	})

	s.Run("cache clear releases the lockout", func() {
		for range 6 {
			_, err := s.service.CheckRateLimit(s.at(base), "7.7.7.7", models.ScopeIP, "", "/auth/login")
			s.Require().NoError(err)
		}
		s.Require().NoError(s.service.ClearCache(s.at(base), models.ScopeIP))

		result, err := s.service.CheckRateLimit(s.at(base), "7.7.7.7", models.ScopeIP, "", "/auth/login")
		s.NoError(err)
		s.True(result.Allowed)
	})
}

func (s *ServiceSuite) TestEndpointRuleCrossScope() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	export, err := models.NewRateLimitConfig("export limit", models.ScopeEndpoint, models.StrategySlidingWindow, 1, time.Minute, base)
	s.Require().NoError(err)
	export.Endpoints = []string{"/v1/export"}
	_, err = s.service.CreateConfig(s.at(base), export)
	s.Require().NoError(err)

	// The endpoint-patterned rule governs matching paths even when the
	// check arrives under another scope.
	result, err := s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/export")
	s.NoError(err)
	s.True(result.Allowed)

	result, err = s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/export")
	s.NoError(err)
	s.False(result.Allowed)
	s.Contains(result.Policy, "export limit")
}

func (s *ServiceSuite) TestTierScaling() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	countAllowed := func(identifier string, tier models.Tier, calls int) int {
		allowed := 0
		for i := range calls {
			result, err := s.service.CheckRateLimit(s.at(base.Add(time.Duration(i)*time.Millisecond)), identifier, models.ScopeUser, tier, "/v1/widgets")
			s.Require().NoError(err)
			if result.Allowed {
				allowed++
			}
		}
		return allowed
	}

	s.Run("higher tiers never admit less", func() {
		free := countAllowed("free-user", models.TierFree, 100)
		pro := countAllowed("pro-user", models.TierPro, 100)
		s.GreaterOrEqual(pro, free)
	})

	s.Run("unlimited tier never blocks across 50 rapid calls", func() {
		s.Equal(50, countAllowed("unlimited-user", models.TierUnlimited, 50))
	})

	s.Run("free tier is capped by the tier table", func() {
		// The user rule allows 300/min but the free tier caps at 60.
		limits, ok := models.LimitsForTier(models.TierFree)
		s.Require().True(ok)
		s.Equal(limits.Requests, countAllowed("capped-user", models.TierFree, 400))
	})
}

func (s *ServiceSuite) TestStats() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("checks feed the counters", func() {
		for range 5 {
			_, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
			s.Require().NoError(err)
		}
		_, err := s.service.CheckRateLimit(s.at(base), "9.9.9.9", models.ScopeIP, "", "/auth/login")
		s.Require().NoError(err)

		stats := s.service.GetStats(context.Background())
		s.Equal(int64(6), stats.TotalRequests)
		s.Equal(int64(1), stats.BlockedRequests)
		s.Equal("9.9.9.9", stats.TopBlocked[0].Identifier)
	})

	s.Run("reset is atomic and idempotent", func() {
		s.service.ResetStats(context.Background())
		s.service.ResetStats(context.Background())

		stats := s.service.GetStats(context.Background())
		s.Zero(stats.TotalRequests)
		s.Empty(stats.TopBlocked)
		s.Empty(s.service.GetBlockedRequests(context.Background(), nil, "", 0))

		// Fresh checks register again after the reset.
		_, err := s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/widgets")
		s.Require().NoError(err)
		s.Equal(int64(1), s.service.GetStats(context.Background()).TotalRequests)
	})
}

func (s *ServiceSuite) TestClearCache() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	low := 1
	_, err := s.service.UpdateConfig(s.at(base), config.RuleIP, &models.UpdateConfigRequest{Requests: &low})
	s.Require().NoError(err)

	deny := func(identifier string, scope models.Scope) bool {
		result, err := s.service.CheckRateLimit(s.at(base), identifier, scope, "", "/v1/widgets")
		s.Require().NoError(err)
		return !result.Allowed
	}

	s.False(deny("1.2.3.4", models.ScopeIP))
	s.True(deny("1.2.3.4", models.ScopeIP))

	s.Run("scoped clear frees only that scope", func() {
		s.Require().NoError(s.service.ClearCache(context.Background(), models.ScopeIP))
		s.False(deny("1.2.3.4", models.ScopeIP))
	})

	s.Run("unscoped clear frees everything", func() {
		s.True(deny("1.2.3.4", models.ScopeIP))
		s.Require().NoError(s.service.ClearCache(context.Background(), ""))
		s.False(deny("1.2.3.4", models.ScopeIP))
	})

	s.Run("invalid scope is rejected", func() {
		err := s.service.ClearCache(context.Background(), models.Scope("bogus"))
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestConfigLifecycle() {
	ctx := context.Background()

	s.Run("create, fetch, disable, delete", func() {
		rule, err := models.NewRateLimitConfig("export limit", models.ScopeUser, models.StrategyFixedWindow, 10, time.Minute, time.Now())
		s.Require().NoError(err)
		rule.Endpoints = []string{"/v1/export"}

		created, err := s.service.CreateConfig(ctx, rule)
		s.NoError(err)

		fetched, err := s.service.GetConfig(ctx, created.ID)
		s.NoError(err)
		s.Equal("export limit", fetched.Name)

		disabled, err := s.service.DisableConfig(ctx, created.ID)
		s.NoError(err)
		s.False(disabled.Enabled)

		s.NoError(s.service.DeleteConfig(ctx, created.ID))
		_, err = s.service.GetConfig(ctx, created.ID)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("built-in rules survive delete attempts", func() {
		for _, id := range config.BuiltinRuleIDs() {
			err := s.service.DeleteConfig(ctx, id)
			s.Error(err, "rule %s", id)
			s.Equal(dErrors.CodeForbidden, dErrors.CodeOf(err))
		}
		s.Len(s.service.GetConfigs(ctx, ""), len(config.BuiltinRuleIDs()))
	})
}

func (s *ServiceSuite) TestDisabledRuleFailsOpen() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	_, err := s.service.DisableConfig(context.Background(), config.RuleTenant)
	s.Require().NoError(err)

	for i := range 200 {
		result, err := s.service.CheckRateLimit(s.at(base), "acme", models.ScopeTenant, "", fmt.Sprintf("/v1/widgets/%d", i))
		s.NoError(err)
		s.True(result.Allowed)
	}
}

func (s *ServiceSuite) TestMetadata() {
	s.Run("strategies are the closed set of three", func() {
		infos := s.service.GetStrategies()
		s.Len(infos, 3)
		for _, info := range infos {
			s.True(info.Strategy.IsValid())
			s.NotEmpty(info.Description)
		}
	})

	s.Run("scopes cover every dimension", func() {
		infos := s.service.GetScopes()
		s.Len(infos, 6)
	})

	s.Run("tier limits cover every tier", func() {
		tiers := s.service.GetTiers()
		limits := s.service.GetTierLimits()
		s.Len(limits, len(tiers))
	})
}

func (s *ServiceSuite) TestQuotaPassthrough() {
	fixedTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := s.at(fixedTime)

	usage, err := s.service.IncrementQuota(ctx, "alice", models.ScopeUser, models.TierBasic, models.PeriodDay, 3)
	s.NoError(err)
	s.Equal(int64(3), usage.Used)

	usage, err = s.service.CheckQuota(ctx, "alice", models.ScopeUser, models.TierBasic, models.PeriodDay)
	s.NoError(err)
	s.Equal(int64(3), usage.Used)

	s.NoError(s.service.ResetQuota(ctx, "alice", models.ScopeUser, models.PeriodDay))
	usage, err = s.service.CheckQuota(ctx, "alice", models.ScopeUser, models.TierBasic, models.PeriodDay)
	s.NoError(err)
	s.Zero(usage.Used)
}

func (s *ServiceSuite) TestGenerateHeaders() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	result, err := s.service.CheckRateLimit(s.at(base), "1.2.3.4", models.ScopeIP, "", "/v1/widgets")
	s.Require().NoError(err)

	h := s.service.GenerateHeaders(result)
	s.Contains(h, "X-RateLimit-Limit")
	s.Contains(h, "X-RateLimit-Remaining")
	s.Contains(h, "X-RateLimit-Reset")
}
