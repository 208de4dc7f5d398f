// Package quota implements the quota tracker: longer-horizon usage counters
// that complement the short-window strategies. Rate limits answer "is this
// burst acceptable"; quotas answer "has this caller spent their period
// allowance".
package quota

import (
	"context"
	"log/slog"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Service coordinates quota reads and increments against a QuotaStore.
type Service struct {
	store  ports.QuotaStore
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a quota service.
func New(store ports.QuotaStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quota store is required")
	}

	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckQuota returns the current usage without consuming anything. An
// expired period reads as a fresh counter.
func (s *Service) CheckQuota(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod) (*models.QuotaUsage, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if !scope.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", scope)
	}
	if !period.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid quota period %q", period)
	}

	usage, err := s.store.Get(ctx, identifier, scope, tier, period)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read quota")
	}
	return usage, nil
}

// IncrementQuota adds amount to the usage counter and returns the updated
// record. Exceeding the limit is reported on the record, not as an error;
// the caller decides whether to block.
func (s *Service) IncrementQuota(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, period models.QuotaPeriod, amount int64) (*models.QuotaUsage, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if !scope.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", scope)
	}
	if !period.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid quota period %q", period)
	}
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	usage, err := s.store.Increment(ctx, identifier, scope, tier, period, amount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to increment quota")
	}

	if usage.Exceeded() {
		s.logger.WarnContext(ctx, "quota exceeded",
			"identifier", identifier,
			"scope", scope,
			"period", period,
			"used", usage.Used,
			"limit", usage.Limit,
		)
	}

	return usage, nil
}

// ResetQuota clears one counter, typically after a plan change.
func (s *Service) ResetQuota(ctx context.Context, identifier string, scope models.Scope, period models.QuotaPeriod) error {
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if !scope.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "invalid scope %q", scope)
	}
	if !period.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "invalid quota period %q", period)
	}

	if err := s.store.Reset(ctx, identifier, scope, period); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset quota")
	}

	ports.LogAudit(ctx, s.logger, nil, "quota_reset",
		"identifier", identifier,
		"scope", scope,
		"period", period,
	)

	return nil
}
