package billing

import (
	"context"
	"log/slog"
	"time"

	"viberesume/internal/db"
	"viberesume/internal/types"

	"golang.org/x/sync/errgroup"
)

// UsageStore is the stored AI-usage counter.
type UsageStore interface {
	GetOrCreate(ctx context.Context, p types.Principal) (*types.UsageCounter, error)
	Increment(ctx context.Context, p types.Principal, amount int) (int, error)
	Reset(ctx context.Context, accountID int64, periodStart time.Time) error
}

// SiteCounter derives the portfolio count.
type SiteCounter interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
}

// ConditionalIncrementer adds to a counter only while it stays within limit.
type ConditionalIncrementer interface {
	IncrementIfBelow(ctx context.Context, p types.Principal, amount, limit int) (int, bool, error)
}

// DecisionRecorder receives every gate outcome. core.MetricsCollector
// satisfies it.
type DecisionRecorder interface {
	RecordGateDecision(kind string, blocked bool)
}

// GenerationDecision combines both gates for a portfolio generation.
type GenerationDecision struct {
	Blocked    bool            `json:"blocked"`
	Reason     string          `json:"reason"`
	Code       types.ErrorCode `json:"code,omitempty"`
	Unlimited  bool            `json:"unlimited"`
	AIUsage    Decision        `json:"aiUsage"`
	Portfolios Decision        `json:"portfolios"`
}

// Status is the dashboard summary for one account.
type Status struct {
	IsPro          bool             `json:"isPro"`
	Status         types.PlanStatus `json:"status"`
	AIUsage        int              `json:"aiUsage"`
	AIUsageLimit   int              `json:"aiUsageLimit"`
	PortfolioCount int              `json:"portfolioCount"`
	PortfolioLimit int              `json:"portfolioLimit"`
}

// Service is the entitlement decision API. Every error it returns from a
// check is a limit_check_failed AppError wrapping the cause, which is
// logged here; callers deny the action.
type Service struct {
	plans      UnlimitedChecker
	usage      UsageStore
	sites      SiteCounter
	aiGate     *Gate
	portfolios *Gate
	txUsage    func(q db.DBTX) ConditionalIncrementer
	metrics    DecisionRecorder
	clock      types.Clock
	logger     *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithDecisionRecorder reports gate outcomes to r.
func WithDecisionRecorder(r DecisionRecorder) ServiceOption {
	return func(s *Service) { s.metrics = r }
}

// WithClock overrides the clock used for period boundaries.
func WithClock(c types.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithTxUsage overrides how a transaction-bound counter is built.
func WithTxUsage(fn func(q db.DBTX) ConditionalIncrementer) ServiceOption {
	return func(s *Service) { s.txUsage = fn }
}

// NewService wires the two gates over the given stores.
func NewService(plans UnlimitedChecker, usage UsageStore, sites SiteCounter, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		plans:  plans,
		usage:  usage,
		sites:  sites,
		clock:  types.RealClock{},
		logger: logger,
		txUsage: func(q db.DBTX) ConditionalIncrementer {
			return db.NewUsageCounterRepository(q)
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.aiGate = NewGate(KindAIUsage, plans,
		func(ctx context.Context, p types.Principal) (int, error) {
			c, err := usage.GetOrCreate(ctx, p)
			if err != nil {
				return 0, err
			}
			return c.Count, nil
		},
		usage.Increment,
	)
	s.portfolios = NewGate(KindPortfolioCount, plans,
		func(ctx context.Context, p types.Principal) (int, error) {
			return sites.CountByUser(ctx, p.AccountID)
		},
		nil,
	)
	return s
}

// ShouldBlockAIUsage checks the AI usage gate.
func (s *Service) ShouldBlockAIUsage(ctx context.Context, p types.Principal) (Decision, error) {
	return s.check(ctx, s.aiGate, p)
}

// ShouldBlockPortfolios checks the portfolio count gate.
func (s *Service) ShouldBlockPortfolios(ctx context.Context, p types.Principal) (Decision, error) {
	return s.check(ctx, s.portfolios, p)
}

func (s *Service) check(ctx context.Context, g *Gate, p types.Principal) (Decision, error) {
	d, err := g.ShouldBlock(ctx, p)
	if err != nil {
		return Decision{}, s.checkFailed(ctx, g.Kind.Name, p, err)
	}
	s.record(g.Kind.Name, d.Blocked)
	return d, nil
}

// IsUnlimitedAccount reports whether the principal is on the unlimited plan.
func (s *Service) IsUnlimitedAccount(ctx context.Context, p types.Principal) (bool, error) {
	ok, err := s.plans.IsUnlimited(ctx, p.ExternalID)
	if err != nil {
		return false, s.checkFailed(ctx, "unlimited", p, err)
	}
	return ok, nil
}

// RecordAIUsage adds amount to the principal's AI usage counter without a
// limit check. Unlimited principals are skipped.
func (s *Service) RecordAIUsage(ctx context.Context, p types.Principal, amount int) (UsageRecord, error) {
	rec, err := s.aiGate.Increment(ctx, p, amount)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record AI usage",
			"account_id", p.AccountID,
			"amount", amount,
			"error", err,
		)
		return UsageRecord{}, err
	}
	return rec, nil
}

// CheckGeneration evaluates both gates concurrently. The generation is
// blocked when either gate blocks; AI usage is reported first.
func (s *Service) CheckGeneration(ctx context.Context, p types.Principal) (GenerationDecision, error) {
	var ai, portfolios Decision

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.aiGate.ShouldBlock(gctx, p)
		ai = d
		return err
	})
	g.Go(func() error {
		d, err := s.portfolios.ShouldBlock(gctx, p)
		portfolios = d
		return err
	})
	if err := g.Wait(); err != nil {
		return GenerationDecision{}, s.checkFailed(ctx, "generation", p, err)
	}

	s.record(KindAIUsage.Name, ai.Blocked)
	s.record(KindPortfolioCount.Name, portfolios.Blocked)

	out := GenerationDecision{
		Unlimited:  ai.Unlimited && portfolios.Unlimited,
		AIUsage:    ai,
		Portfolios: portfolios,
	}
	switch {
	case ai.Blocked:
		out.Blocked, out.Reason, out.Code = true, ai.Reason, KindAIUsage.LimitCode
	case portfolios.Blocked:
		out.Blocked, out.Reason, out.Code = true, portfolios.Reason, KindPortfolioCount.LimitCode
	default:
		out.Reason = ai.Reason
	}
	return out, nil
}

// ConsumeAIUsage charges amount units inside the caller's transaction, only
// if the counter stays within the limit. A miss returns
// limit_ai_usage_exceeded and the caller must roll back. unlimited is the
// plan status the caller resolved before opening the transaction; unlimited
// principals are not charged. No provider call is made here, so row locks
// held by q are never kept across outbound I/O.
func (s *Service) ConsumeAIUsage(ctx context.Context, q db.DBTX, p types.Principal, amount int, unlimited bool) (UsageRecord, error) {
	if amount <= 0 {
		return UsageRecord{}, types.NewAppError(types.ErrCodeValidationInvalidAmount, "amount must be positive", nil)
	}
	if unlimited {
		return UsageRecord{Skipped: true}, nil
	}

	count, ok, err := s.txUsage(q).IncrementIfBelow(ctx, p, amount, KindAIUsage.Limit)
	if err != nil {
		return UsageRecord{}, err
	}
	if !ok {
		s.record(KindAIUsage.Name, true)
		return UsageRecord{}, types.NewAppError(KindAIUsage.LimitCode, KindAIUsage.blockedReason, nil)
	}
	return UsageRecord{Count: count}, nil
}

// ResetAIUsage zeroes the principal's counter and starts the current period.
func (s *Service) ResetAIUsage(ctx context.Context, p types.Principal) error {
	return s.usage.Reset(ctx, p.AccountID, PeriodStart(s.clock.Now()))
}

// UserStatus summarizes plan and usage. Unlimited accounts report zero AI
// usage and never touch the counter.
func (s *Service) UserStatus(ctx context.Context, p types.Principal) (*Status, error) {
	isPro, err := s.plans.IsUnlimited(ctx, p.ExternalID)
	if err != nil {
		return nil, s.checkFailed(ctx, "status", p, err)
	}

	st := &Status{
		IsPro:          isPro,
		Status:         types.PlanStatusFree,
		AIUsageLimit:   KindAIUsage.Limit,
		PortfolioLimit: KindPortfolioCount.Limit,
	}
	if isPro {
		st.Status = types.PlanStatusPro
	} else {
		c, err := s.usage.GetOrCreate(ctx, p)
		if err != nil {
			return nil, s.checkFailed(ctx, "status", p, err)
		}
		st.AIUsage = c.Count
	}

	st.PortfolioCount, err = s.sites.CountByUser(ctx, p.AccountID)
	if err != nil {
		return nil, s.checkFailed(ctx, "status", p, err)
	}
	return st, nil
}

func (s *Service) record(kind string, blocked bool) {
	if s.metrics != nil {
		s.metrics.RecordGateDecision(kind, blocked)
	}
}

// checkFailed logs the cause and returns the generic denial.
func (s *Service) checkFailed(ctx context.Context, what string, p types.Principal, err error) error {
	s.logger.ErrorContext(ctx, "usage limit check failed",
		"check", what,
		"account_id", p.AccountID,
		"external_id", p.ExternalID,
		"error", err,
	)
	return types.NewAppError(types.ErrCodeLimitCheck, "Unable to verify usage limits", err)
}
