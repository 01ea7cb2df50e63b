package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"viberesume/internal/billing"
	"viberesume/internal/core"
	"viberesume/internal/types"
)

// EntitlementService is the decision API as used by EntitlementHandler.
// Satisfied by *billing.Service. Every check error it returns is already a
// limit_check_failed AppError.
type EntitlementService interface {
	ShouldBlockAIUsage(ctx context.Context, p types.Principal) (billing.Decision, error)
	ShouldBlockPortfolios(ctx context.Context, p types.Principal) (billing.Decision, error)
	IsUnlimitedAccount(ctx context.Context, p types.Principal) (bool, error)
	UserStatus(ctx context.Context, p types.Principal) (*billing.Status, error)
}

// AIUsageResponse is the body of GET /v1/entitlements/ai-usage.
type AIUsageResponse struct {
	Blocked      bool   `json:"blocked"`
	Limit        int    `json:"limit"`
	CurrentUsage int    `json:"currentUsage"`
	Reason       string `json:"reason"`
}

// PortfoliosResponse is the body of GET /v1/entitlements/portfolios.
type PortfoliosResponse struct {
	Blocked      bool   `json:"blocked"`
	Limit        int    `json:"limit"`
	CurrentCount int    `json:"currentCount"`
	Reason       string `json:"reason"`
}

// UnlimitedResponse is the body of GET /v1/entitlements/unlimited.
type UnlimitedResponse struct {
	Unlimited bool `json:"unlimited"`
}

// EntitlementHandler exposes the decision API and the account status
// summary to the dashboard.
type EntitlementHandler struct {
	svc    EntitlementService
	logger *slog.Logger
}

// NewEntitlementHandler creates an EntitlementHandler.
func NewEntitlementHandler(svc EntitlementService, l *slog.Logger) *EntitlementHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EntitlementHandler{svc: svc, logger: l}
}

// RegisterRoutes mounts the entitlement and status routes on r.
func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Route("/entitlements", func(r chi.Router) {
		r.Get("/ai-usage", h.AIUsage)
		r.Get("/portfolios", h.Portfolios)
		r.Get("/unlimited", h.Unlimited)
	})
	r.Get("/me/status", h.Status)
}

// AIUsage handles GET /v1/entitlements/ai-usage.
func (h *EntitlementHandler) AIUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	d, err := h.svc.ShouldBlockAIUsage(r.Context(), actor.Principal())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, AIUsageResponse{
		Blocked:      d.Blocked,
		Limit:        d.Limit,
		CurrentUsage: d.Current,
		Reason:       d.Reason,
	})
}

// Portfolios handles GET /v1/entitlements/portfolios.
func (h *EntitlementHandler) Portfolios(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	d, err := h.svc.ShouldBlockPortfolios(r.Context(), actor.Principal())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, PortfoliosResponse{
		Blocked:      d.Blocked,
		Limit:        d.Limit,
		CurrentCount: d.Current,
		Reason:       d.Reason,
	})
}

// Unlimited handles GET /v1/entitlements/unlimited.
func (h *EntitlementHandler) Unlimited(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	unlimited, err := h.svc.IsUnlimitedAccount(r.Context(), actor.Principal())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, UnlimitedResponse{Unlimited: unlimited})
}

// Status handles GET /v1/me/status.
func (h *EntitlementHandler) Status(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	status, err := h.svc.UserStatus(r.Context(), actor.Principal())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, status)
}
