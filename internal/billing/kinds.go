package billing

import (
	"time"

	"viberesume/internal/types"
)

// Limits for free accounts.
const (
	AIUsageLimit   = 10
	PortfolioLimit = 5
)

// ResourceKind describes one metered resource. Stored kinds keep a counter
// row; derived kinds are recounted from their source table on every check.
type ResourceKind struct {
	Name      string
	Limit     int
	Stored    bool
	LimitCode types.ErrorCode

	unlimitedReason string
	blockedReason   string
	allowedReason   string
}

var (
	// KindAIUsage counts model calls per period.
	KindAIUsage = ResourceKind{
		Name:            "ai_usage",
		Limit:           AIUsageLimit,
		Stored:          true,
		LimitCode:       types.ErrCodeLimitAIUsage,
		unlimitedReason: "Pro user - unlimited AI usage",
		blockedReason:   "AI usage limit reached",
		allowedReason:   "AI usage within limits",
	}

	// KindPortfolioCount is the number of sites an account owns.
	KindPortfolioCount = ResourceKind{
		Name:            "portfolios",
		Limit:           PortfolioLimit,
		Stored:          false,
		LimitCode:       types.ErrCodeLimitPortfolios,
		unlimitedReason: "Pro user - unlimited portfolios",
		blockedReason:   "Portfolio limit reached",
		allowedReason:   "Portfolio count within limits",
	}
)

// PeriodStart returns the start of the UTC calendar month containing t.
// AI usage counters are scoped to this period.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
