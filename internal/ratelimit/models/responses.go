package models

import "time"

// ConfigResponse is the wire form of a RateLimitConfig. Durations leave the
// process as milliseconds, matching the admin API request payloads.
type ConfigResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Scope       Scope     `json:"scope"`
	Strategy    Strategy  `json:"strategy"`
	Requests    int       `json:"requests"`
	WindowMs    int64     `json:"window_ms"`
	BurstLimit  int       `json:"burst_limit,omitempty"`
	Tier        Tier      `json:"tier,omitempty"`
	Endpoints   []string  `json:"endpoints,omitempty"`
	PenaltyMs   int64     `json:"penalty_ms,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromConfig converts a domain rule into its wire form.
func FromConfig(c *RateLimitConfig) ConfigResponse {
	return ConfigResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Scope:       c.Scope,
		Strategy:    c.Strategy,
		Requests:    c.Requests,
		WindowMs:    c.Window.Milliseconds(),
		BurstLimit:  c.BurstLimit,
		Tier:        c.Tier,
		Endpoints:   c.Endpoints,
		PenaltyMs:   c.Penalty.Milliseconds(),
		Enabled:     c.Enabled,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// FromConfigs converts a slice of rules into wire form.
func FromConfigs(configs []*RateLimitConfig) []ConfigResponse {
	out := make([]ConfigResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, FromConfig(c))
	}
	return out
}

// RateLimitExceededResponse is the 429 body for denied requests.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
