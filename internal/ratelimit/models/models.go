package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "gatekeeper/pkg/domain-errors"
)

// Scope is the dimension a rate limit applies to.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeTenant   Scope = "tenant"
	ScopeUser     Scope = "user"
	ScopeIP       Scope = "ip"
	ScopeAPIKey   Scope = "api_key"
	ScopeEndpoint Scope = "endpoint"
)

// IsValid checks if the scope is one of the supported enum values.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeTenant, ScopeUser, ScopeIP, ScopeAPIKey, ScopeEndpoint:
		return true
	}
	return false
}

// String returns the string representation.
func (s Scope) String() string {
	return string(s)
}

// ParseScope creates a Scope from a string, validating it.
func ParseScope(s string) (Scope, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "scope cannot be empty")
	}
	sc := Scope(s)
	if !sc.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", s)
	}
	return sc, nil
}

// Strategy selects the time-windowing algorithm for a rule.
// The set is closed: adding a variant requires a new engine implementation.
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyFixedWindow   Strategy = "fixed_window"
)

// IsValid checks if the strategy is one of the supported enum values.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyTokenBucket, StrategySlidingWindow, StrategyFixedWindow:
		return true
	}
	return false
}

// String returns the string representation.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy creates a Strategy from a string, validating it.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "strategy cannot be empty")
	}
	st := Strategy(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid strategy %q", s)
	}
	return st, nil
}

// QuotaPeriod is the horizon a quota counter covers.
type QuotaPeriod string

const (
	PeriodMinute QuotaPeriod = "minute"
	PeriodHour   QuotaPeriod = "hour"
	PeriodDay    QuotaPeriod = "day"
	PeriodMonth  QuotaPeriod = "month"
)

// IsValid checks if the quota period is one of the supported enum values.
func (p QuotaPeriod) IsValid() bool {
	switch p {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodMonth:
		return true
	}
	return false
}

// String returns the string representation.
func (p QuotaPeriod) String() string {
	return string(p)
}

// ParseQuotaPeriod creates a QuotaPeriod from a string, validating it.
func ParseQuotaPeriod(s string) (QuotaPeriod, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "quota period cannot be empty")
	}
	p := QuotaPeriod(s)
	if !p.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid quota period %q", s)
	}
	return p, nil
}

// RateLimitConfig is a rate limiting rule. Endpoint-patterned rules take
// precedence over scope-level rules during resolution; non-endpoint rules are
// scope-unique by registry convention.
type RateLimitConfig struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Scope       Scope         `json:"scope"`
	Strategy    Strategy      `json:"strategy"`
	Requests    int           `json:"requests"`
	Window      time.Duration `json:"-"`
	BurstLimit  int           `json:"burst_limit,omitempty"`
	Tier        Tier          `json:"tier,omitempty"`
	Endpoints   []string      `json:"endpoints,omitempty"` // prefix-match patterns
	Penalty     time.Duration `json:"-"`                   // lockout override on violation
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks the rule's domain invariants. The registry refuses rules
// that fail it, so strategy engines never see a zero or negative window.
func (c *RateLimitConfig) Validate() error {
	if c.Name == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "name cannot be empty")
	}
	if !c.Scope.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid scope")
	}
	if !c.Strategy.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid strategy")
	}
	if c.Requests <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "requests must be positive")
	}
	if c.Window <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "window must be positive")
	}
	if c.BurstLimit < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "burst limit cannot be negative")
	}
	if c.Penalty < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "penalty cannot be negative")
	}
	return nil
}

// NewRateLimitConfig creates a RateLimitConfig with domain invariant validation.
func NewRateLimitConfig(name string, scope Scope, strategy Strategy, requests int, window time.Duration, now time.Time) (*RateLimitConfig, error) {
	c := &RateLimitConfig{
		Name:     name,
		Scope:    scope,
		Strategy: strategy,
		Requests: requests,
		Window:   window,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &RateLimitConfig{
		ID:        uuid.NewString(),
		Name:      name,
		Scope:     scope,
		Strategy:  strategy,
		Requests:  requests,
		Window:    window,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (c *RateLimitConfig) Clone() *RateLimitConfig {
	clone := *c
	clone.Endpoints = append([]string(nil), c.Endpoints...)
	return &clone
}

// LongestEndpointMatch returns the length of the longest endpoint pattern
// that is a prefix of the given endpoint, or zero when none match.
func (c *RateLimitConfig) LongestEndpointMatch(endpoint string) int {
	longest := 0
	for _, pattern := range c.Endpoints {
		if pattern == "" || len(pattern) <= longest {
			continue
		}
		if len(endpoint) >= len(pattern) && endpoint[:len(pattern)] == pattern {
			longest = len(pattern)
		}
	}
	return longest
}

// MatchesEndpoint reports whether any of the rule's endpoint patterns is a
// prefix of the given endpoint. Rules without patterns never match here.
func (c *RateLimitConfig) MatchesEndpoint(endpoint string) bool {
	for _, pattern := range c.Endpoints {
		if pattern != "" && len(endpoint) >= len(pattern) && endpoint[:len(pattern)] == pattern {
			return true
		}
	}
	return false
}

// RateLimitResult represents the outcome of a rate limit check.
// A denial is a normal result, never an error.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	Policy     string    `json:"policy,omitempty"`      // rule name and strategy, for X-RateLimit-Policy
}

// QuotaUsage tracks longer-horizon usage for one (identifier, scope, period).
// Used increases monotonically within a period; once ResetAt passes, the
// record is expired and resets lazily on the next read.
type QuotaUsage struct {
	Identifier string      `json:"identifier"`
	Scope      Scope       `json:"scope"`
	Tier       Tier        `json:"tier"`
	Period     QuotaPeriod `json:"period"`
	Used       int64       `json:"used"`
	Limit      int64       `json:"limit"`
	ResetAt    time.Time   `json:"reset_at"`
}

// Remaining returns the quota headroom, clamped at zero.
func (q *QuotaUsage) Remaining() int64 {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Exceeded reports whether the quota is spent.
func (q *QuotaUsage) Exceeded() bool {
	return q.Used >= q.Limit
}

// BlockedRequestRecord is an immutable audit entry for a denied request.
type BlockedRequestRecord struct {
	ID                string    `json:"id"`
	Identifier        string    `json:"identifier"`
	Scope             Scope     `json:"scope"`
	Endpoint          string    `json:"endpoint,omitempty"`
	BlockedAt         time.Time `json:"blocked_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
	Reason            string    `json:"reason"`
}

// NewBlockedRequestRecord creates a BlockedRequestRecord with invariant validation.
func NewBlockedRequestRecord(identifier string, scope Scope, endpoint string, retryAfter int, reason string, now time.Time) (*BlockedRequestRecord, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identifier cannot be empty")
	}
	if !scope.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid scope")
	}
	return &BlockedRequestRecord{
		ID:                uuid.NewString(),
		Identifier:        identifier,
		Scope:             scope,
		Endpoint:          endpoint,
		BlockedAt:         now,
		RetryAfterSeconds: retryAfter,
		Reason:            reason,
	}, nil
}

// BlockedIdentifier is one entry in the top-offenders ranking.
type BlockedIdentifier struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}

// RateLimitStats is the running denial statistics snapshot.
type RateLimitStats struct {
	TotalRequests   int64               `json:"total_requests"`
	AllowedRequests int64               `json:"allowed_requests"`
	BlockedRequests int64               `json:"blocked_requests"`
	BlockRate       float64             `json:"block_rate"` // percent
	TopBlocked      []BlockedIdentifier `json:"top_blocked"`
}

// StrategyInfo describes one windowing algorithm for metadata listings.
type StrategyInfo struct {
	Strategy    Strategy `json:"strategy"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

// ScopeInfo describes one limit dimension for metadata listings.
type ScopeInfo struct {
	Scope       Scope  `json:"scope"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
