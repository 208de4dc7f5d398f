package models

import (
	"math"
	"time"

	dErrors "gatekeeper/pkg/domain-errors"
)

// Tier is the subscription level determining baseline limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise, TierUnlimited:
		return true
	}
	return false
}

// String returns the string representation.
func (t Tier) String() string {
	return string(t)
}

// ParseTier creates a Tier from a string, validating it. The empty string is
// accepted: tier is optional and empty means no tier scaling.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return "", nil
	}
	t := Tier(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid tier %q", s)
	}
	return t, nil
}

// UnlimitedRequests is the sentinel baseline for the unlimited tier. It must
// never win a min() comparison against a real configured limit.
const UnlimitedRequests = math.MaxInt32

// UnlimitedQuota is the sentinel quota limit for the unlimited tier.
const UnlimitedQuota = int64(math.MaxInt64)

// QuotaLimits holds the per-period quota table for one tier.
// Invariant across all tiers: Month >= Day >= Hour >= Minute.
type QuotaLimits struct {
	Minute int64 `json:"minute"`
	Hour   int64 `json:"hour"`
	Day    int64 `json:"day"`
	Month  int64 `json:"month"`
}

// ForPeriod returns the limit for the given period.
func (q QuotaLimits) ForPeriod(period QuotaPeriod) int64 {
	switch period {
	case PeriodMinute:
		return q.Minute
	case PeriodHour:
		return q.Hour
	case PeriodDay:
		return q.Day
	case PeriodMonth:
		return q.Month
	}
	return 0
}

// TierLimits holds the baseline rate limit and quota table for one tier.
type TierLimits struct {
	Tier     Tier          `json:"tier"`
	Requests int           `json:"requests"`
	Window   time.Duration `json:"-"`
	Quota    QuotaLimits   `json:"quota"`
}

// tierTable is the static baseline table. Values only grow with tier rank so
// effective limits scale monotonically.
var tierTable = map[Tier]TierLimits{
	TierFree: {
		Tier:     TierFree,
		Requests: 60,
		Window:   time.Minute,
		Quota:    QuotaLimits{Minute: 60, Hour: 1_000, Day: 10_000, Month: 100_000},
	},
	TierBasic: {
		Tier:     TierBasic,
		Requests: 120,
		Window:   time.Minute,
		Quota:    QuotaLimits{Minute: 120, Hour: 3_000, Day: 30_000, Month: 500_000},
	},
	TierPro: {
		Tier:     TierPro,
		Requests: 600,
		Window:   time.Minute,
		Quota:    QuotaLimits{Minute: 600, Hour: 10_000, Day: 100_000, Month: 2_000_000},
	},
	TierEnterprise: {
		Tier:     TierEnterprise,
		Requests: 3_000,
		Window:   time.Minute,
		Quota:    QuotaLimits{Minute: 3_000, Hour: 50_000, Day: 500_000, Month: 10_000_000},
	},
	TierUnlimited: {
		Tier:     TierUnlimited,
		Requests: UnlimitedRequests,
		Window:   time.Minute,
		Quota:    QuotaLimits{Minute: UnlimitedQuota, Hour: UnlimitedQuota, Day: UnlimitedQuota, Month: UnlimitedQuota},
	},
}

// LimitsForTier returns the baseline limits for a tier.
// Unknown or empty tiers report ok=false: no tier scaling applies.
func LimitsForTier(tier Tier) (TierLimits, bool) {
	limits, ok := tierTable[tier]
	return limits, ok
}

// AllTiers returns every tier in ascending rank order.
func AllTiers() []Tier {
	return []Tier{TierFree, TierBasic, TierPro, TierEnterprise, TierUnlimited}
}

// AllTierLimits returns the full baseline table in ascending rank order.
func AllTierLimits() []TierLimits {
	tiers := AllTiers()
	out := make([]TierLimits, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierTable[t])
	}
	return out
}

// EffectiveLimit applies tier scaling: the minimum of the configured limit
// and the tier baseline. The unlimited sentinel never wins the comparison
// unless the configured limit itself is larger.
func EffectiveLimit(configured int, tier Tier) int {
	limits, ok := LimitsForTier(tier)
	if !ok {
		return configured
	}
	if limits.Requests < configured {
		return limits.Requests
	}
	return configured
}
