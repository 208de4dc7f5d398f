// Package headers renders admission results as conventional rate limit
// response headers. Formatting is pure; nothing here touches engine state.
package headers

import (
	"net/http"
	"strconv"

	"gatekeeper/internal/ratelimit/models"
)

// Header names follow the de facto X-RateLimit convention.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// FromResult converts an admission result into response headers. Remaining
// is clamped at zero; Retry-After appears only on denial.
func FromResult(result *models.RateLimitResult) map[string]string {
	if result == nil {
		return map[string]string{}
	}

	remaining := result.Remaining
	if remaining < 0 {
		remaining = 0
	}

	out := map[string]string{
		HeaderLimit:     strconv.Itoa(result.Limit),
		HeaderRemaining: strconv.Itoa(remaining),
		HeaderReset:     strconv.FormatInt(result.ResetAt.Unix(), 10),
	}
	if result.Policy != "" {
		out[HeaderPolicy] = result.Policy
	}
	if !result.Allowed && result.RetryAfter > 0 {
		out[HeaderRetryAfter] = strconv.Itoa(result.RetryAfter)
	}
	return out
}

// Apply writes the result's headers onto an HTTP header map.
func Apply(h http.Header, result *models.RateLimitResult) {
	for name, value := range FromResult(result) {
		h.Set(name, value)
	}
}
