// Package registry holds the live rule set and answers rule resolution for
// admission checks. All mutations and lookups are serialized behind a single
// lock; the rule set is small and read-mostly.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// Registry is an in-memory rule store with protected built-in rules.
type Registry struct {
	mu        sync.RWMutex
	rules     map[string]*models.RateLimitConfig
	order     []string
	protected map[string]struct{}

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry seeded with the given rules. Seeded rule IDs are
// protected from deletion.
func New(seed []*models.RateLimitConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		rules:     make(map[string]*models.RateLimitConfig),
		protected: make(map[string]struct{}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, rule := range seed {
		if rule.ID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "seed rule missing id")
		}
		if _, exists := r.rules[rule.ID]; exists {
			return nil, dErrors.Newf(dErrors.CodeConflict, "duplicate seed rule id %q", rule.ID)
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		clone := rule.Clone()
		r.rules[clone.ID] = clone
		r.order = append(r.order, clone.ID)
		r.protected[clone.ID] = struct{}{}
	}

	return r, nil
}

// Create adds a new rule. A missing ID is generated.
func (r *Registry) Create(ctx context.Context, rule *models.RateLimitConfig) (*models.RateLimitConfig, error) {
	if rule == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "rule is required")
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	clone := rule.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := requestcontext.Now(ctx)
	clone.CreatedAt = now
	clone.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[clone.ID]; exists {
		return nil, dErrors.Newf(dErrors.CodeConflict, "rule %q already exists", clone.ID)
	}

	r.rules[clone.ID] = clone
	r.order = append(r.order, clone.ID)

	ports.LogAudit(ctx, r.logger, nil, "rate_limit_rule_created",
		"rule_id", clone.ID,
		"scope", clone.Scope,
		"strategy", clone.Strategy,
	)

	return clone.Clone(), nil
}

// Get returns the rule with the given ID.
func (r *Registry) Get(_ context.Context, id string) (*models.RateLimitConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "rule %q not found", id)
	}
	return rule.Clone(), nil
}

// List returns all rules in insertion order.
func (r *Registry) List(_ context.Context) []*models.RateLimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.RateLimitConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id].Clone())
	}
	return out
}

// Update applies a patch to an existing rule and returns the updated copy.
func (r *Registry) Update(ctx context.Context, id string, patch *models.UpdateConfigRequest) (*models.RateLimitConfig, error) {
	if patch == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "patch is required")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "rule %q not found", id)
	}

	updated := rule.Clone()
	patch.ApplyTo(updated)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	updated.UpdatedAt = requestcontext.Now(ctx)
	r.rules[id] = updated

	ports.LogAudit(ctx, r.logger, nil, "rate_limit_rule_updated", "rule_id", id)

	return updated.Clone(), nil
}

// SetEnabled flips a rule on or off without touching its parameters.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (*models.RateLimitConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "rule %q not found", id)
	}

	rule.Enabled = enabled
	rule.UpdatedAt = requestcontext.Now(ctx)

	ports.LogAudit(ctx, r.logger, nil, "rate_limit_rule_toggled", "rule_id", id, "enabled", enabled)

	return rule.Clone(), nil
}

// Delete removes a rule. Built-in rules cannot be deleted, only disabled.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "rule %q not found", id)
	}
	if _, builtin := r.protected[id]; builtin {
		return dErrors.Newf(dErrors.CodeForbidden, "built-in rule %q cannot be deleted", id)
	}

	delete(r.rules, id)
	for i, ruleID := range r.order {
		if ruleID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	ports.LogAudit(ctx, r.logger, nil, "rate_limit_rule_deleted", "rule_id", id)

	return nil
}

// Resolve picks the rule governing a request for the given scope and
// endpoint. Enabled endpoint-patterned rules are considered across every
// scope and win over scope-wide rules, with the longest matching prefix
// first; ties fall back to insertion order. The scope-wide fallback is
// limited to the caller's own scope. The second return is false when no
// rule applies, in which case the caller admits the request.
func (r *Registry) Resolve(_ context.Context, scope models.Scope, endpoint string) (*models.RateLimitConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best       *models.RateLimitConfig
		bestPrefix int
		fallback   *models.RateLimitConfig
	)

	for _, id := range r.order {
		rule := r.rules[id]
		if !rule.Enabled {
			continue
		}
		if len(rule.Endpoints) > 0 {
			if n := rule.LongestEndpointMatch(endpoint); n > bestPrefix {
				best = rule
				bestPrefix = n
			}
			continue
		}
		if rule.Scope == scope && fallback == nil {
			fallback = rule
		}
	}

	if best != nil {
		return best.Clone(), true
	}
	if fallback != nil {
		return fallback.Clone(), true
	}
	return nil, false
}

// BuiltinIDs returns the protected rule identifiers, sorted.
func (r *Registry) BuiltinIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.protected))
	for id := range r.protected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
