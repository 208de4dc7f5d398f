// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid
// duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/pkg/requestcontext"
)

// CheckParams carries the effective limit handed to a strategy store.
// Burst is only meaningful for the token bucket; zero means "use Limit".
type CheckParams struct {
	Limit  int
	Window time.Duration
	Burst  int
}

// Capacity returns the bucket capacity implied by the params.
func (p CheckParams) Capacity() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.Limit
}

// StrategyStore is the common contract of all windowing algorithms. A Check
// is a single serialized read-modify-write against the key's state: two
// concurrent checks for the same key must never both consume the last slot.
type StrategyStore interface {
	// Check decides admission for one request against the key's state.
	Check(ctx context.Context, key string, p CheckParams) (*models.RateLimitResult, error)

	// Reset drops the state for a single key.
	Reset(ctx context.Context, key string) error

	// ResetPrefix drops the state for every key with the given prefix.
	// An empty prefix drops everything.
	ResetPrefix(ctx context.Context, prefix string) error
}

// QuotaStore manages longer-horizon usage counters, independent of the
// short-window strategies.
type QuotaStore interface {
	// Get returns the current usage record, lazily resetting an expired
	// period. Never returns nil on success.
	Get(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod) (*models.QuotaUsage, error)

	// Increment adds amount to the usage counter and returns the updated
	// record. The caller decides whether an exceeded quota blocks work.
	Increment(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod, amount int64) (*models.QuotaUsage, error)

	// Reset clears the usage counter for one (identifier, scope, period).
	Reset(ctx context.Context, identifier string, scope models.Scope, period models.QuotaPeriod) error
}

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// AuditEvent is the minimal audit payload forwarded to external sinks.
type AuditEvent struct {
	Action string
	At     time.Time
}

// LogAudit is a shared helper for logging audit events across ratelimit
// services. It logs to the structured logger and to the audit publisher when
// one is configured.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event string, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	args := append(attrs, "event", event, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, AuditEvent{Action: event, At: requestcontext.Now(ctx)}); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}
