// Package config defines the built-in rate limit rules the engine ships
// with. These rules are seeded into the registry at startup and are
// protected from deletion; operators tune them via update instead.
package config

import (
	"time"

	"gatekeeper/internal/ratelimit/models"
)

// Built-in rule identifiers. Rules seeded with these IDs cannot be deleted.
const (
	RuleGlobal = "rl-global"
	RuleIP     = "rl-ip"
	RuleUser   = "rl-user"
	RuleTenant = "rl-tenant"
	RuleAuth   = "rl-auth"
	RuleAPIKey = "rl-api-key"
)

// Config carries tunables for the rate limit engine.
type Config struct {
	// LedgerCapacity bounds the denial ledger's ring buffer.
	LedgerCapacity int

	// DefaultRules are seeded into the registry at startup.
	DefaultRules []*models.RateLimitConfig
}

// DefaultConfig returns the engine defaults. The seeded rules cover the
// common admission scopes; endpoint-specific rules narrow them further.
func DefaultConfig(now time.Time) Config {
	return Config{
		LedgerCapacity: 1000,
		DefaultRules: []*models.RateLimitConfig{
			{
				ID:          RuleGlobal,
				Name:        "Global request ceiling",
				Description: "Upper bound on total request volume across all callers",
				Scope:       models.ScopeGlobal,
				Strategy:    models.StrategySlidingWindow,
				Requests:    10000,
				Window:      time.Minute,
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			{
				ID:          RuleIP,
				Name:        "Per-IP limit",
				Description: "Baseline limit for unauthenticated traffic by source address",
				Scope:       models.ScopeIP,
				Strategy:    models.StrategySlidingWindow,
				Requests:    100,
				Window:      time.Minute,
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			{
				ID:          RuleUser,
				Name:        "Per-user limit",
				Description: "Limit for authenticated users, scaled by tier",
				Scope:       models.ScopeUser,
				Strategy:    models.StrategyTokenBucket,
				Requests:    300,
				Window:      time.Minute,
				BurstLimit:  350,
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			{
				ID:          RuleTenant,
				Name:        "Per-tenant limit",
				Description: "Aggregate limit across all members of a tenant",
				Scope:       models.ScopeTenant,
				Strategy:    models.StrategySlidingWindow,
				Requests:    5000,
				Window:      time.Minute,
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			{
				ID:          RuleAuth,
				Name:        "Authentication endpoints",
				Description: "Strict fixed window on credential endpoints with a lockout penalty",
				Scope:       models.ScopeIP,
				Strategy:    models.StrategyFixedWindow,
				Requests:    5,
				Window:      15 * time.Minute,
				Penalty:     time.Hour,
				Endpoints:   []string{"/auth/login", "/auth/register", "/auth/password-reset"},
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			{
				ID:          RuleAPIKey,
				Name:        "Per-API-key limit",
				Description: "Limit for programmatic access by API key, scaled by tier",
				Scope:       models.ScopeAPIKey,
				Strategy:    models.StrategyTokenBucket,
				Requests:    600,
				Window:      time.Minute,
				BurstLimit:  700,
				Enabled:     true,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		},
	}
}

// BuiltinRuleIDs returns the identifiers of the protected default rules.
func BuiltinRuleIDs() []string {
	return []string{RuleGlobal, RuleIP, RuleUser, RuleTenant, RuleAuth, RuleAPIKey}
}
