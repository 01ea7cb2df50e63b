package auth

import (
	"context"
	"strings"

	"viberesume/internal/types"
)

// ClaimsPlanChecker answers plan questions from the "pla" claim of the
// session that authenticated the current request. It can only speak for
// the principal in the request context.
type ClaimsPlanChecker struct{}

// HasPlan reports whether the request's session claims planID for externalID.
func (ClaimsPlanChecker) HasPlan(ctx context.Context, externalID string, planID string) (bool, error) {
	actor, ok := types.GetActor(ctx)
	if !ok || actor.ExternalID == "" || actor.ExternalID != externalID {
		return false, types.NewAppError(
			types.ErrCodeAuthNoPrincipal,
			"plan claims are only available for the authenticated principal",
			nil,
		)
	}
	for _, p := range ParsePlanClaim(actor.PlanClaim) {
		if p == planID {
			return true, nil
		}
	}
	return false, nil
}

// ParsePlanClaim splits a plan claim such as "u:viberesume_pro" or
// "u:free,o:team" into user-scoped plan ids. Organization-scoped entries
// are ignored. Unscoped entries are treated as user plans.
func ParsePlanClaim(claim string) []string {
	var plans []string
	for _, part := range strings.Split(claim, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scope, plan, found := strings.Cut(part, ":")
		switch {
		case !found:
			plans = append(plans, scope)
		case scope == "u" && plan != "":
			plans = append(plans, plan)
		}
	}
	return plans
}
