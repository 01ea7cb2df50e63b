// Package billing decides entitlements: whether a principal is on the
// unlimited plan, and whether a metered action is still allowed.
package billing

import (
	"context"
	"log/slog"

	"viberesume/internal/external"
	"viberesume/internal/types"
)

// DefaultProPlanID is the plan that grants unlimited usage.
const DefaultProPlanID = "viberesume_pro"

// PlanResolverConfig configures the admin override and the plan id.
type PlanResolverConfig struct {
	// AdminEmail, when set, is treated as unlimited regardless of billing.
	AdminEmail string
	ProPlanID  string
}

// PlanResolver answers IsUnlimited. Nothing is cached: every call asks the
// identity provider for the current email and the plan source for the
// current plan.
type PlanResolver struct {
	identity   external.IdentityProvider
	plans      external.PlanChecker
	adminEmail string
	proPlanID  string
	logger     *slog.Logger
}

// NewPlanResolver creates a PlanResolver.
func NewPlanResolver(
	identity external.IdentityProvider,
	plans external.PlanChecker,
	cfg PlanResolverConfig,
	logger *slog.Logger,
) *PlanResolver {
	if cfg.ProPlanID == "" {
		cfg.ProPlanID = DefaultProPlanID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanResolver{
		identity:   identity,
		plans:      plans,
		adminEmail: cfg.AdminEmail,
		proPlanID:  cfg.ProPlanID,
		logger:     logger,
	}
}

// IsUnlimited reports whether the principal is exempt from usage limits.
// The admin email is checked first; only a verified address that matches
// exactly counts. Otherwise the plan source decides.
func (r *PlanResolver) IsUnlimited(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no authenticated principal", nil)
	}

	if r.adminEmail != "" {
		info, err := r.identity.GetAccountInfo(ctx, externalID)
		if err != nil {
			return false, err
		}
		if info.EmailVerified && info.Email == r.adminEmail {
			r.logger.DebugContext(ctx, "admin override", "external_id", externalID)
			return true, nil
		}
	}

	return r.plans.HasPlan(ctx, externalID, r.proPlanID)
}
