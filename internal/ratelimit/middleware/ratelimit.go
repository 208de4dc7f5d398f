// Package middleware adapts the admission engine to chi HTTP middleware.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"gatekeeper/internal/ratelimit/headers"
	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// AdmissionChecker is the slice of the engine the middleware needs.
type AdmissionChecker interface {
	CheckRateLimit(ctx context.Context, identifier string, scope models.Scope, tier models.Tier, endpoint string) (*models.RateLimitResult, error)
}

type Middleware struct {
	checker  AdmissionChecker
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns off admission checks entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(checker AdmissionChecker, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		checker: checker,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit returns middleware enforcing the given scope's rules on every
// request. The identifier is taken from the request context populated by the
// auth/metadata layers; a missing identifier skips the check rather than
// limiting everyone under one key.
func (m *Middleware) Limit(scope models.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identifier := identifierFor(ctx, scope, r)
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			tier, err := models.ParseTier(requestcontext.Tier(ctx))
			if err != nil {
				tier = ""
			}

			result, err := m.checker.CheckRateLimit(ctx, identifier, scope, tier, r.URL.Path)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			// Headers regardless of outcome
			headers.Apply(w.Header(), result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func identifierFor(ctx context.Context, scope models.Scope, r *http.Request) string {
	switch scope {
	case models.ScopeGlobal:
		return "global"
	case models.ScopeTenant:
		return requestcontext.TenantID(ctx)
	case models.ScopeUser:
		return requestcontext.UserID(ctx)
	case models.ScopeIP:
		ip := requestcontext.ClientIP(ctx)
		if ip == "" {
			ip = r.RemoteAddr
		}
		return ip
	case models.ScopeAPIKey:
		return requestcontext.APIKeyID(ctx)
	case models.ScopeEndpoint:
		return r.URL.Path
	}
	return ""
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
