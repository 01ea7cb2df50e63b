package billing

import (
	"context"
	"fmt"

	"viberesume/internal/types"
)

// UnlimitedChecker is implemented by PlanResolver.
type UnlimitedChecker interface {
	IsUnlimited(ctx context.Context, externalID string) (bool, error)
}

// CountFunc returns the current usage of a kind for an account.
type CountFunc func(ctx context.Context, p types.Principal) (int, error)

// IncrementFunc adds amount to a stored counter and returns the new count.
type IncrementFunc func(ctx context.Context, p types.Principal, amount int) (int, error)

// Decision is the outcome of a gate check.
type Decision struct {
	Kind      string `json:"kind"`
	Blocked   bool   `json:"blocked"`
	Limit     int    `json:"limit"`
	Current   int    `json:"current"`
	Unlimited bool   `json:"unlimited"`
	Reason    string `json:"reason"`
}

// UsageRecord is the outcome of an increment.
type UsageRecord struct {
	Count   int
	Skipped bool
}

// Gate is the one usage gate shared by every resource kind.
type Gate struct {
	Kind      ResourceKind
	plans     UnlimitedChecker
	count     CountFunc
	increment IncrementFunc
}

// NewGate creates a gate. increment may be nil for derived kinds.
func NewGate(kind ResourceKind, plans UnlimitedChecker, count CountFunc, increment IncrementFunc) *Gate {
	return &Gate{Kind: kind, plans: plans, count: count, increment: increment}
}

// ShouldBlock reports whether the principal has reached the limit. Unlimited
// principals return before any counter is read or created.
func (g *Gate) ShouldBlock(ctx context.Context, p types.Principal) (Decision, error) {
	if p.ExternalID == "" {
		return Decision{}, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no authenticated principal", nil)
	}

	unlimited, err := g.plans.IsUnlimited(ctx, p.ExternalID)
	if err != nil {
		return Decision{}, err
	}
	if unlimited {
		return Decision{
			Kind:      g.Kind.Name,
			Limit:     g.Kind.Limit,
			Unlimited: true,
			Reason:    g.Kind.unlimitedReason,
		}, nil
	}

	current, err := g.count(ctx, p)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Kind:    g.Kind.Name,
		Limit:   g.Kind.Limit,
		Current: current,
		Blocked: current >= g.Kind.Limit,
		Reason:  g.Kind.allowedReason,
	}
	if d.Blocked {
		d.Reason = g.Kind.blockedReason
	}
	return d, nil
}

// Increment records amount units of usage. Unlimited principals are skipped.
// It does not consult ShouldBlock; callers check first.
func (g *Gate) Increment(ctx context.Context, p types.Principal, amount int) (UsageRecord, error) {
	if g.increment == nil {
		return UsageRecord{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s is derived and cannot be incremented", g.Kind.Name),
			nil,
		)
	}
	if amount <= 0 {
		return UsageRecord{}, types.NewAppError(types.ErrCodeValidationInvalidAmount, "amount must be positive", nil)
	}
	if p.ExternalID == "" {
		return UsageRecord{}, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no authenticated principal", nil)
	}

	unlimited, err := g.plans.IsUnlimited(ctx, p.ExternalID)
	if err != nil {
		return UsageRecord{}, err
	}
	if unlimited {
		return UsageRecord{Skipped: true}, nil
	}

	count, err := g.increment(ctx, p, amount)
	if err != nil {
		return UsageRecord{}, err
	}
	return UsageRecord{Count: count}, nil
}
