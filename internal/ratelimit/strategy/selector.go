package strategy

import (
	"context"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Selector dispatches checks to the store implementing a rule's strategy.
// The strategy set is closed; an unknown tag is an invariant violation, not
// a fallback.
type Selector struct {
	stores map[models.Strategy]ports.StrategyStore
}

// NewSelector builds a selector over the three in-memory stores.
func NewSelector() *Selector {
	return &Selector{
		stores: map[models.Strategy]ports.StrategyStore{
			models.StrategyTokenBucket:   NewInMemoryTokenBucketStore(),
			models.StrategySlidingWindow: NewInMemorySlidingWindowStore(),
			models.StrategyFixedWindow:   NewInMemoryFixedWindowStore(),
		},
	}
}

// NewSelectorWithStores builds a selector over caller-provided stores, one
// per strategy. Used to back all strategies with Redis.
func NewSelectorWithStores(stores map[models.Strategy]ports.StrategyStore) (*Selector, error) {
	for _, strategy := range []models.Strategy{models.StrategyTokenBucket, models.StrategySlidingWindow, models.StrategyFixedWindow} {
		if stores[strategy] == nil {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "missing store for strategy %q", strategy)
		}
	}
	return &Selector{stores: stores}, nil
}

// Store returns the store for a strategy.
func (s *Selector) Store(strategy models.Strategy) (ports.StrategyStore, error) {
	store, ok := s.stores[strategy]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "no store for strategy %q", strategy)
	}
	return store, nil
}

// Check dispatches one admission check to the store for the rule's strategy.
func (s *Selector) Check(ctx context.Context, strategy models.Strategy, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	store, err := s.Store(strategy)
	if err != nil {
		return nil, err
	}
	return store.Check(ctx, key, p)
}

// Reset clears the key's state in every store.
func (s *Selector) Reset(ctx context.Context, key string) error {
	for _, store := range s.stores {
		if err := store.Reset(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ResetPrefix clears matching state in every store.
func (s *Selector) ResetPrefix(ctx context.Context, prefix string) error {
	for _, store := range s.stores {
		if err := store.ResetPrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}
