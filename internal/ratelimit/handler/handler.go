// Package handler exposes the admin API for the admission engine: rule
// management, denial inspection, stats and quota operations. Authentication
// is the router's concern; these endpoints assume an operator-only mount.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/service"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// Handler wires admin endpoints to the engine facade.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// New constructs the admin handler.
func New(service *service.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the admin endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/rate-limits", func(r chi.Router) {
		r.Get("/", h.HandleListConfigs)
		r.Post("/", h.HandleCreateConfig)
		r.Get("/stats", h.HandleGetStats)
		r.Post("/stats/reset", h.HandleResetStats)
		r.Get("/blocked", h.HandleGetBlocked)
		r.Post("/cache/clear", h.HandleClearCache)
		r.Get("/strategies", h.HandleGetStrategies)
		r.Get("/scopes", h.HandleGetScopes)
		r.Get("/tiers", h.HandleGetTiers)
		r.Get("/tier-limits", h.HandleGetTierLimits)
		r.Get("/{id}", h.HandleGetConfig)
		r.Patch("/{id}", h.HandleUpdateConfig)
		r.Delete("/{id}", h.HandleDeleteConfig)
		r.Post("/{id}/enable", h.HandleEnableConfig)
		r.Post("/{id}/disable", h.HandleDisableConfig)
	})

	r.Route("/admin/quotas", func(r chi.Router) {
		r.Get("/", h.HandleCheckQuota)
		r.Post("/increment", h.HandleIncrementQuota)
		r.Post("/reset", h.HandleResetQuota)
	})
}

// HandleListConfigs handles GET /admin/rate-limits.
func (h *Handler) HandleListConfigs(w http.ResponseWriter, r *http.Request) {
	var scope models.Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		parsed, err := models.ParseScope(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		scope = parsed
	}

	configs := h.service.GetConfigs(r.Context(), scope)
	httputil.WriteJSON(w, http.StatusOK, models.FromConfigs(configs))
}

// HandleCreateConfig handles POST /admin/rate-limits.
func (h *Handler) HandleCreateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[models.CreateConfigRequest](w, r, h.logger)
	if !ok {
		return
	}

	scope, strategy, tier, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rule, err := models.NewRateLimitConfig(req.Name, scope, strategy, req.Requests, req.Window(), requestcontext.Now(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rule.Description = req.Description
	rule.BurstLimit = req.BurstLimit
	rule.Tier = tier
	rule.Endpoints = req.Endpoints
	rule.Penalty = req.Penalty()

	created, err := h.service.CreateConfig(ctx, rule)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rate limit rule created",
		"rule_id", created.ID,
		"scope", created.Scope,
		"strategy", created.Strategy,
	)

	httputil.WriteJSON(w, http.StatusCreated, models.FromConfig(created))
}

// HandleGetConfig handles GET /admin/rate-limits/{id}.
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.FromConfig(rule))
}

// HandleUpdateConfig handles PATCH /admin/rate-limits/{id}.
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	patch, ok := httputil.Decode[models.UpdateConfigRequest](w, r, h.logger)
	if !ok {
		return
	}

	updated, err := h.service.UpdateConfig(ctx, id, &patch)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rate limit rule updated", "rule_id", id)

	httputil.WriteJSON(w, http.StatusOK, models.FromConfig(updated))
}

// HandleDeleteConfig handles DELETE /admin/rate-limits/{id}.
func (h *Handler) HandleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteConfig(ctx, id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rate limit rule deleted", "rule_id", id)

	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// HandleEnableConfig handles POST /admin/rate-limits/{id}/enable.
func (h *Handler) HandleEnableConfig(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.EnableConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.FromConfig(rule))
}

// HandleDisableConfig handles POST /admin/rate-limits/{id}/disable.
func (h *Handler) HandleDisableConfig(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.DisableConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.FromConfig(rule))
}

// HandleGetBlocked handles GET /admin/rate-limits/blocked.
// Query params: since (RFC 3339), scope, limit.
func (h *Handler) HandleGetBlocked(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "since must be RFC 3339"))
			return
		}
		since = &t
	}

	var scope models.Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		parsed, err := models.ParseScope(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		scope = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records := h.service.GetBlockedRequests(r.Context(), since, scope, limit)
	httputil.WriteJSON(w, http.StatusOK, records)
}

// HandleGetStats handles GET /admin/rate-limits/stats.
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetStats(r.Context()))
}

// HandleResetStats handles POST /admin/rate-limits/stats/reset.
func (h *Handler) HandleResetStats(w http.ResponseWriter, r *http.Request) {
	h.service.ResetStats(r.Context())
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// HandleClearCache handles POST /admin/rate-limits/cache/clear.
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[models.ClearCacheRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.ClearCache(ctx, models.Scope(req.Scope)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rate limit cache cleared", "scope", req.Scope)

	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// HandleGetStrategies handles GET /admin/rate-limits/strategies.
func (h *Handler) HandleGetStrategies(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetStrategies())
}

// HandleGetScopes handles GET /admin/rate-limits/scopes.
func (h *Handler) HandleGetScopes(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetScopes())
}

// HandleGetTiers handles GET /admin/rate-limits/tiers.
func (h *Handler) HandleGetTiers(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetTiers())
}

// HandleGetTierLimits handles GET /admin/rate-limits/tier-limits.
func (h *Handler) HandleGetTierLimits(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetTierLimits())
}

// HandleCheckQuota handles GET /admin/quotas.
// Query params: identifier, scope, tier, period.
func (h *Handler) HandleCheckQuota(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.QuotaRequest{
		Identifier: q.Get("identifier"),
		Scope:      q.Get("scope"),
		Tier:       q.Get("tier"),
		Period:     q.Get("period"),
	}

	scope, tier, period, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	usage, err := h.service.CheckQuota(r.Context(), req.Identifier, scope, tier, period)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usage)
}

// HandleIncrementQuota handles POST /admin/quotas/increment.
func (h *Handler) HandleIncrementQuota(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[models.QuotaRequest](w, r, h.logger)
	if !ok {
		return
	}

	scope, tier, period, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	amount := req.Amount
	if amount == 0 {
		amount = 1
	}

	usage, err := h.service.IncrementQuota(r.Context(), req.Identifier, scope, tier, period, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usage)
}

// HandleResetQuota handles POST /admin/quotas/reset.
func (h *Handler) HandleResetQuota(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[models.QuotaRequest](w, r, h.logger)
	if !ok {
		return
	}

	if req.Identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "identifier is required"))
		return
	}
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	period, err := models.ParseQuotaPeriod(req.Period)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.ResetQuota(r.Context(), req.Identifier, scope, period); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}
