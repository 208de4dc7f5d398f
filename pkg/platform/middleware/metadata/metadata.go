// Package metadata extracts caller identity and client metadata from the
// request and stores it in the context. In a full deployment the identity
// values come from an upstream authentication layer; this middleware trusts
// the gateway headers it is mounted behind.
package metadata

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"gatekeeper/pkg/requestcontext"
)

// Headers populated by the upstream auth/gateway layer.
const (
	HeaderUserID    = "X-User-ID"
	HeaderTenantID  = "X-Tenant-ID"
	HeaderAPIKeyID  = "X-API-Key-ID"
	HeaderTier      = "X-Tier"
	HeaderRequestID = "X-Request-ID"
)

// ClientMetadata extracts client IP, User-Agent, resolved identity and the
// request ID from the request and adds them to the context. Apply it early
// in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx = requestcontext.WithClientIP(ctx, ClientIPFromRequest(r))
		ctx = requestcontext.WithUserAgent(ctx, r.Header.Get("User-Agent"))

		if v := r.Header.Get(HeaderUserID); v != "" {
			ctx = requestcontext.WithUserID(ctx, v)
		}
		if v := r.Header.Get(HeaderTenantID); v != "" {
			ctx = requestcontext.WithTenantID(ctx, v)
		}
		if v := r.Header.Get(HeaderAPIKeyID); v != "" {
			ctx = requestcontext.WithAPIKeyID(ctx, v)
		}
		if v := r.Header.Get(HeaderTier); v != "" {
			ctx = requestcontext.WithTier(ctx, v)
		}

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest extracts the real client IP, handling proxies and load
// balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs; the first is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port"; IPv6 is "[::1]:port".
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
