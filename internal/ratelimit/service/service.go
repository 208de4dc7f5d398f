// Package service implements the admission control engine facade. It wires
// rule resolution, strategy dispatch, quota tracking, denial bookkeeping and
// the admin operations behind one constructed-once object; nothing here is
// ambient global state.
package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gatekeeper/internal/ratelimit/headers"
	"gatekeeper/internal/ratelimit/ledger"
	"gatekeeper/internal/ratelimit/metrics"
	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	"gatekeeper/internal/ratelimit/registry"
	quotaservice "gatekeeper/internal/ratelimit/service/quota"
	"gatekeeper/internal/ratelimit/strategy"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// Service is the rate limit engine. All admission decisions, quota
// operations and admin mutations flow through it.
type Service struct {
	registry *registry.Registry
	selector *strategy.Selector
	quota    *quotaservice.Service
	ledger   *ledger.Ledger
	lockouts *lockoutList

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   ports.AuditPublisher
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher sets the audit event sink.
func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// New creates the engine facade.
func New(reg *registry.Registry, selector *strategy.Selector, quota *quotaservice.Service, denials *ledger.Ledger, opts ...Option) (*Service, error) {
	if reg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "registry is required")
	}
	if selector == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "strategy selector is required")
	}
	if quota == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quota service is required")
	}
	if denials == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "denial ledger is required")
	}

	s := &Service{
		registry: reg,
		selector: selector,
		quota:    quota,
		ledger:   denials,
		lockouts: newLockoutList(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.updateActiveRules(context.Background())

	return s, nil
}

// CheckRateLimit decides admission for one request. A denial is a normal
// result, never an error. When no enabled rule matches, or the strategy
// store fails, the request is admitted: availability over strictness.
func (s *Service) CheckRateLimit(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, endpoint string) (*models.RateLimitResult, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if !scope.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", scope)
	}

	rule, ok := s.registry.Resolve(ctx, scope, endpoint)
	if !ok {
		result := s.unlimitedResult(ctx)
		s.recordAllowed(ctx, scope)
		return result, nil
	}

	params := ports.CheckParams{
		Limit:  models.EffectiveLimit(rule.Requests, tier),
		Window: rule.Window,
		Burst:  rule.BurstLimit,
	}
	// A tier cap bounds the burst capacity too, or a capped tier could
	// still burst past its scaled limit.
	if params.Burst > 0 && params.Limit < rule.Requests {
		params.Burst = params.Limit
	}
	key := models.CompositeKey(scope, identifier)
	policy := rule.Name + ";" + rule.Strategy.String()

	now := requestcontext.Now(ctx)
	if until, locked := s.lockouts.Active(key, now); locked {
		retryAfter := int(math.Ceil(until.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		result := &models.RateLimitResult{
			Limit:      params.Limit,
			ResetAt:    until,
			RetryAfter: retryAfter,
			Policy:     policy,
		}
		s.recordBlocked(ctx, identifier, scope, endpoint, rule, result)
		return result, nil
	}

	result, err := s.selector.Check(ctx, rule.Strategy, key, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "strategy check failed, admitting request",
			"rule_id", rule.ID,
			"strategy", rule.Strategy,
			"key", key,
			"error", err,
		)
		result = s.unlimitedResult(ctx)
		s.recordAllowed(ctx, scope)
		return result, nil
	}

	result.Policy = policy

	if result.Allowed {
		s.recordAllowed(ctx, scope)
		return result, nil
	}

	if rule.Penalty > 0 {
		until := now.Add(rule.Penalty)
		result.RetryAfter = int(math.Ceil(rule.Penalty.Seconds()))
		result.ResetAt = until
		s.lockouts.Set(key, until)
	}

	s.recordBlocked(ctx, identifier, scope, endpoint, rule, result)

	return result, nil
}

// GenerateHeaders is part of the engine surface for non-HTTP callers; HTTP
// handlers go through the headers package directly.
func (s *Service) GenerateHeaders(result *models.RateLimitResult) map[string]string {
	return headers.FromResult(result)
}

// CheckQuota returns current usage without consuming.
func (s *Service) CheckQuota(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod) (*models.QuotaUsage, error) {
	return s.quota.CheckQuota(ctx, identifier, scope, tier, period)
}

// IncrementQuota adds usage and reports the updated record.
func (s *Service) IncrementQuota(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod, amount int64) (*models.QuotaUsage, error) {
	usage, err := s.quota.IncrementQuota(ctx, identifier, scope, tier, period, amount)
	if err != nil {
		return nil, err
	}
	if usage.Exceeded() && s.metrics != nil {
		s.metrics.IncrementQuotaExceeded(period.String())
	}
	return usage, nil
}

// ResetQuota clears one quota counter.
func (s *Service) ResetQuota(ctx context.Context, identifier string, scope models.Scope, period models.QuotaPeriod) error {
	return s.quota.ResetQuota(ctx, identifier, scope, period)
}

// CreateConfig registers a new rule.
func (s *Service) CreateConfig(ctx context.Context, rule *models.RateLimitConfig) (*models.RateLimitConfig, error) {
	created, err := s.registry.Create(ctx, rule)
	if err != nil {
		return nil, err
	}
	s.updateActiveRules(ctx)
	return created, nil
}

// GetConfig returns one rule by id.
func (s *Service) GetConfig(ctx context.Context, id string) (*models.RateLimitConfig, error) {
	return s.registry.Get(ctx, id)
}

// GetConfigs lists rules, optionally filtered to a single scope.
func (s *Service) GetConfigs(ctx context.Context, scope models.Scope) []*models.RateLimitConfig {
	rules := s.registry.List(ctx)
	if scope == "" {
		return rules
	}
	filtered := make([]*models.RateLimitConfig, 0, len(rules))
	for _, rule := range rules {
		if rule.Scope == scope {
			filtered = append(filtered, rule)
		}
	}
	return filtered
}

// UpdateConfig patches a rule.
func (s *Service) UpdateConfig(ctx context.Context, id string, patch *models.UpdateConfigRequest) (*models.RateLimitConfig, error) {
	updated, err := s.registry.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.updateActiveRules(ctx)
	return updated, nil
}

// DeleteConfig removes a rule. Built-in rules are delete-protected.
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	if err := s.registry.Delete(ctx, id); err != nil {
		return err
	}
	s.updateActiveRules(ctx)
	return nil
}

// EnableConfig turns a rule on.
func (s *Service) EnableConfig(ctx context.Context, id string) (*models.RateLimitConfig, error) {
	rule, err := s.registry.SetEnabled(ctx, id, true)
	if err != nil {
		return nil, err
	}
	s.updateActiveRules(ctx)
	return rule, nil
}

// DisableConfig turns a rule off. Traffic previously governed by it
// degrades to the next matching rule, or to unconditional admission.
func (s *Service) DisableConfig(ctx context.Context, id string) (*models.RateLimitConfig, error) {
	rule, err := s.registry.SetEnabled(ctx, id, false)
	if err != nil {
		return nil, err
	}
	s.updateActiveRules(ctx)
	return rule, nil
}

// GetBlockedRequests returns recent denials, most recent first.
func (s *Service) GetBlockedRequests(ctx context.Context, since *time.Time, scope models.Scope, limit int) []*models.BlockedRequestRecord {
	return s.ledger.GetBlockedRequests(ctx, since, scope, limit)
}

// GetStats returns the running admission statistics.
func (s *Service) GetStats(ctx context.Context) *models.RateLimitStats {
	return s.ledger.GetStats(ctx)
}

// ResetStats zeroes counters and clears the denial history.
func (s *Service) ResetStats(ctx context.Context) {
	s.ledger.Reset(ctx)
	ports.LogAudit(ctx, s.logger, s.audit, "rate_limit_stats_reset")
}

// ClearCache drops strategy state, either for one scope or everything.
// Quota counters are untouched; they are billing state, not cache.
func (s *Service) ClearCache(ctx context.Context, scope models.Scope) error {
	if scope != "" && !scope.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", scope)
	}

	prefix := ""
	if scope != "" {
		prefix = models.ScopeKeyPrefix(scope)
	}
	if err := s.selector.ResetPrefix(ctx, prefix); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear strategy state")
	}
	s.lockouts.ClearPrefix(prefix)

	ports.LogAudit(ctx, s.logger, s.audit, "rate_limit_cache_cleared", "scope", scope)

	return nil
}

// GetStrategies lists the supported windowing algorithms.
func (s *Service) GetStrategies() []models.StrategyInfo {
	return []models.StrategyInfo{
		{Strategy: models.StrategyTokenBucket, Name: "Token Bucket", Description: "Allows bursts up to a capacity, refilling continuously at a fixed rate"},
		{Strategy: models.StrategySlidingWindow, Name: "Sliding Window", Description: "Counts requests within a rolling interval ending at now"},
		{Strategy: models.StrategyFixedWindow, Name: "Fixed Window", Description: "Counts requests within discrete epoch-aligned buckets"},
	}
}

// GetScopes lists the supported limit dimensions.
func (s *Service) GetScopes() []models.ScopeInfo {
	return []models.ScopeInfo{
		{Scope: models.ScopeGlobal, Name: "Global", Description: "All traffic regardless of caller"},
		{Scope: models.ScopeTenant, Name: "Tenant", Description: "Aggregate across all members of a tenant"},
		{Scope: models.ScopeUser, Name: "User", Description: "One authenticated user"},
		{Scope: models.ScopeIP, Name: "IP", Description: "One source address"},
		{Scope: models.ScopeAPIKey, Name: "API Key", Description: "One programmatic credential"},
		{Scope: models.ScopeEndpoint, Name: "Endpoint", Description: "One route, regardless of caller"},
	}
}

// GetTiers lists the known subscription tiers.
func (s *Service) GetTiers() []models.Tier {
	return models.AllTiers()
}

// GetTierLimits returns the baseline limits per tier.
func (s *Service) GetTierLimits() []models.TierLimits {
	return models.AllTierLimits()
}

// unlimitedResult is the synthetic fail-open admission.
func (s *Service) unlimitedResult(ctx context.Context) *models.RateLimitResult {
	now := requestcontext.Now(ctx)
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     models.UnlimitedRequests,
		Remaining: models.UnlimitedRequests,
		ResetAt:   now.Add(time.Minute),
		Policy:    "unlimited",
	}
}

func (s *Service) recordAllowed(ctx context.Context, scope models.Scope) {
	s.ledger.RecordAllowed(ctx)
	if s.metrics != nil {
		s.metrics.IncrementCheck(scope.String(), true)
	}
}

func (s *Service) recordBlocked(ctx context.Context, identifier string, scope models.Scope, endpoint string, rule *models.RateLimitConfig, result *models.RateLimitResult) {
	now := requestcontext.Now(ctx)

	record, err := models.NewBlockedRequestRecord(identifier, scope, endpoint, result.RetryAfter, "rate limit exceeded: "+rule.Name, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build denial record", "error", err)
	} else {
		s.ledger.RecordBlocked(ctx, record)
	}

	if s.metrics != nil {
		s.metrics.IncrementCheck(scope.String(), false)
		s.metrics.IncrementDenial(rule.Strategy.String())
	}

	ports.LogAudit(ctx, s.logger, s.audit, "rate_limit_exceeded",
		"identifier", models.SanitizeKeySegment(identifier),
		"scope", scope,
		"endpoint", endpoint,
		"rule_id", rule.ID,
		"retry_after", result.RetryAfter,
	)
}

func (s *Service) updateActiveRules(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	enabled := 0
	for _, rule := range s.registry.List(ctx) {
		if rule.Enabled {
			enabled++
		}
	}
	s.metrics.SetActiveRules(enabled)
}
