package external

import (
	"context"

	"viberesume/internal/types"
)

// IdentityProvider looks up what the identity provider knows about a
// principal. The provider is the source of truth for email addresses.
type IdentityProvider interface {
	// GetAccountInfo returns the principal's primary email and whether it
	// is verified. Returns not_found_account when the principal is unknown.
	GetAccountInfo(ctx context.Context, externalID string) (*types.AccountInfo, error)
}

// PlanChecker reports whether a principal holds a named plan.
type PlanChecker interface {
	HasPlan(ctx context.Context, externalID string, planID string) (bool, error)
}

// Generator produces and modifies portfolio HTML.
type Generator interface {
	// Generate turns a résumé PDF into a complete HTML document.
	Generate(ctx context.Context, pdf []byte) (string, error)

	// Edit applies a natural-language instruction to an existing document.
	Edit(ctx context.Context, html string, instruction string) (string, error)
}

// Compile-time interface checks.
var (
	_ IdentityProvider = (*ClerkClient)(nil)
	_ PlanChecker      = (*StripePlanClient)(nil)
	_ Generator        = (*GeminiClient)(nil)
)
