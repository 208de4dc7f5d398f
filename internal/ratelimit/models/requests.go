package models

import (
	"time"

	dErrors "gatekeeper/pkg/domain-errors"
)

// CreateConfigRequest is the admin API payload for creating a rule.
type CreateConfigRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Scope       string   `json:"scope"`
	Strategy    string   `json:"strategy"`
	Requests    int      `json:"requests"`
	WindowMs    int64    `json:"window_ms"`
	BurstLimit  int      `json:"burst_limit,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	Endpoints   []string `json:"endpoints,omitempty"`
	PenaltyMs   int64    `json:"penalty_ms,omitempty"`
}

// Validate checks the payload and converts it into domain values.
func (r *CreateConfigRequest) Validate() (Scope, Strategy, Tier, error) {
	scope, err := ParseScope(r.Scope)
	if err != nil {
		return "", "", "", err
	}
	strategy, err := ParseStrategy(r.Strategy)
	if err != nil {
		return "", "", "", err
	}
	tier, err := ParseTier(r.Tier)
	if err != nil {
		return "", "", "", err
	}
	if r.Name == "" {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if r.Requests <= 0 {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "requests must be positive")
	}
	if r.WindowMs <= 0 {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "window_ms must be positive")
	}
	if r.BurstLimit < 0 {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "burst_limit cannot be negative")
	}
	if r.PenaltyMs < 0 {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "penalty_ms cannot be negative")
	}
	return scope, strategy, tier, nil
}

// Window returns the request window as a duration.
func (r *CreateConfigRequest) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// Penalty returns the penalty lockout as a duration (zero when unset).
func (r *CreateConfigRequest) Penalty() time.Duration {
	return time.Duration(r.PenaltyMs) * time.Millisecond
}

// UpdateConfigRequest is a partial update; nil fields are left untouched.
type UpdateConfigRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Strategy    *string   `json:"strategy,omitempty"`
	Requests    *int      `json:"requests,omitempty"`
	WindowMs    *int64    `json:"window_ms,omitempty"`
	BurstLimit  *int      `json:"burst_limit,omitempty"`
	Tier        *string   `json:"tier,omitempty"`
	Endpoints   *[]string `json:"endpoints,omitempty"`
	PenaltyMs   *int64    `json:"penalty_ms,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
}

// Validate checks whichever fields are present.
func (r *UpdateConfigRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name cannot be empty")
	}
	if r.Strategy != nil {
		if _, err := ParseStrategy(*r.Strategy); err != nil {
			return err
		}
	}
	if r.Tier != nil {
		if _, err := ParseTier(*r.Tier); err != nil {
			return err
		}
	}
	if r.Requests != nil && *r.Requests <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "requests must be positive")
	}
	if r.WindowMs != nil && *r.WindowMs <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "window_ms must be positive")
	}
	if r.BurstLimit != nil && *r.BurstLimit < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "burst_limit cannot be negative")
	}
	if r.PenaltyMs != nil && *r.PenaltyMs < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "penalty_ms cannot be negative")
	}
	return nil
}

// ApplyTo copies the present fields onto a config. Validate must have been
// called first; invalid enum values would otherwise be written through.
func (r *UpdateConfigRequest) ApplyTo(c *RateLimitConfig) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Description != nil {
		c.Description = *r.Description
	}
	if r.Strategy != nil {
		c.Strategy = Strategy(*r.Strategy)
	}
	if r.Requests != nil {
		c.Requests = *r.Requests
	}
	if r.WindowMs != nil {
		c.Window = time.Duration(*r.WindowMs) * time.Millisecond
	}
	if r.BurstLimit != nil {
		c.BurstLimit = *r.BurstLimit
	}
	if r.Tier != nil {
		c.Tier = Tier(*r.Tier)
	}
	if r.Endpoints != nil {
		c.Endpoints = append([]string(nil), (*r.Endpoints)...)
	}
	if r.PenaltyMs != nil {
		c.Penalty = time.Duration(*r.PenaltyMs) * time.Millisecond
	}
	if r.Enabled != nil {
		c.Enabled = *r.Enabled
	}
}

// ClearCacheRequest optionally restricts a cache clear to one scope.
type ClearCacheRequest struct {
	Scope string `json:"scope,omitempty"`
}

// QuotaRequest is the admin API payload for quota check/increment.
type QuotaRequest struct {
	Identifier string `json:"identifier"`
	Scope      string `json:"scope"`
	Tier       string `json:"tier"`
	Period     string `json:"period"`
	Amount     int64  `json:"amount,omitempty"` // increment only; defaults to 1
}

// Validate checks the payload and converts it into domain values.
func (r *QuotaRequest) Validate() (Scope, Tier, QuotaPeriod, error) {
	if r.Identifier == "" {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	scope, err := ParseScope(r.Scope)
	if err != nil {
		return "", "", "", err
	}
	tier, err := ParseTier(r.Tier)
	if err != nil {
		return "", "", "", err
	}
	period, err := ParseQuotaPeriod(r.Period)
	if err != nil {
		return "", "", "", err
	}
	if r.Amount < 0 {
		return "", "", "", dErrors.New(dErrors.CodeInvalidInput, "amount cannot be negative")
	}
	return scope, tier, period, nil
}
