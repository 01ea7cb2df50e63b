// Package sites implements the portfolio lifecycle: generating a site from a
// résumé, editing it with the model, renaming, deleting and serving it.
package sites

import (
	"context"
	"log/slog"
	"strings"

	"viberesume/internal/billing"
	"viberesume/internal/db"
	"viberesume/internal/external"
	"viberesume/internal/types"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const pdfMIME = "application/pdf"

// DefaultMaxUploadBytes is used when Config.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 10 << 20

// SiteStore is the pool-backed site repository.
type SiteStore interface {
	GetByID(ctx context.Context, id, userID int64) (*types.Site, error)
	GetBySlug(ctx context.Context, slug string) (*types.Site, error)
	ListByUser(ctx context.Context, userID int64) ([]types.SiteSummary, error)
	UpdateSlug(ctx context.Context, id, userID int64, slug string) (*types.Site, error)
	Delete(ctx context.Context, id, userID int64) error
}

// TxSiteStore is the site repository bound to a transaction.
type TxSiteStore interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
	Create(ctx context.Context, site *types.Site) error
	UpdateContent(ctx context.Context, id, userID int64, title, content string) (*types.Site, error)
}

// AccountLocker serializes per-account writes inside a transaction.
type AccountLocker interface {
	LockForUpdate(ctx context.Context, accountID int64) error
}

// Entitlements is the part of billing.Service the lifecycle needs.
type Entitlements interface {
	CheckGeneration(ctx context.Context, p types.Principal) (billing.GenerationDecision, error)
	ShouldBlockAIUsage(ctx context.Context, p types.Principal) (billing.Decision, error)
	IsUnlimitedAccount(ctx context.Context, p types.Principal) (bool, error)
	ConsumeAIUsage(ctx context.Context, q db.DBTX, p types.Principal, amount int, unlimited bool) (billing.UsageRecord, error)
}

// Config holds lifecycle settings.
type Config struct {
	MaxUploadBytes int64
	// PublicBaseURL prefixes /sites/{slug} in returned links.
	PublicBaseURL string
}

// Generated is the result of a successful generation.
type Generated struct {
	Site *types.Site
	URL  string
}

// Service runs the portfolio lifecycle.
type Service struct {
	sites        SiteStore
	txBeginner   db.TxBeginner
	txStores     func(q db.DBTX) (AccountLocker, TxSiteStore)
	generator    external.Generator
	entitlements Entitlements
	cfg          Config
	logger       *slog.Logger
}

// NewService creates a Service. Transactional steps use repositories bound
// to the transaction started on txBeginner.
func NewService(
	sites SiteStore,
	txBeginner db.TxBeginner,
	generator external.Generator,
	entitlements Entitlements,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sites:        sites,
		txBeginner:   txBeginner,
		generator:    generator,
		entitlements: entitlements,
		cfg:          cfg,
		logger:       logger,
		txStores: func(q db.DBTX) (AccountLocker, TxSiteStore) {
			return db.NewUserRepository(q), db.NewSiteRepository(q)
		},
	}
}

// URLFor returns the public link for a slug.
func (s *Service) URLFor(slug string) string {
	return s.cfg.PublicBaseURL + "/sites/" + slug
}

// Generate creates a portfolio from a résumé PDF. Both gates are checked
// before the model is called. The site insert and the AI usage charge
// commit together, so a failed generation is never charged and a charge
// that would exceed the limit creates no site. The plan is resolved once
// more after the model call and before the transaction opens; no provider
// is called while the account row is locked.
func (s *Service) Generate(ctx context.Context, actor types.Actor, pdf []byte) (*Generated, error) {
	p := actor.Principal()

	decision, err := s.entitlements.CheckGeneration(ctx, p)
	if err != nil {
		return nil, err
	}
	if decision.Blocked {
		return nil, types.NewAppErrorWithDetails(decision.Code, decision.Reason, nil, map[string]any{
			"ai_usage":   decision.AIUsage.Current,
			"portfolios": decision.Portfolios.Current,
		})
	}

	if err := s.validatePDF(pdf); err != nil {
		return nil, err
	}

	content, err := s.generator.Generate(ctx, pdf)
	if err != nil {
		s.logger.ErrorContext(ctx, "portfolio generation failed",
			"account_id", p.AccountID,
			"error", err,
		)
		return nil, asGenerationError(err)
	}

	unlimited, err := s.entitlements.IsUnlimitedAccount(ctx, p)
	if err != nil {
		return nil, err
	}

	site := &types.Site{
		UserID:  p.AccountID,
		Slug:    uuid.NewString(),
		Title:   external.ExtractTitle(content),
		Content: content,
	}

	err = db.WithTx(ctx, s.txBeginner, func(tx pgx.Tx) error {
		users, sites := s.txStores(tx)
		if err := users.LockForUpdate(ctx, p.AccountID); err != nil {
			return err
		}
		if !unlimited {
			n, err := sites.CountByUser(ctx, p.AccountID)
			if err != nil {
				return err
			}
			if n >= billing.KindPortfolioCount.Limit {
				return types.NewAppError(billing.KindPortfolioCount.LimitCode, "Portfolio limit reached", nil)
			}
		}
		if err := sites.Create(ctx, site); err != nil {
			return err
		}
		_, err := s.entitlements.ConsumeAIUsage(ctx, tx, p, 1, unlimited)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "portfolio generated",
		"account_id", p.AccountID,
		"site_id", site.ID,
		"slug", site.Slug,
	)
	return &Generated{Site: site, URL: s.URLFor(site.Slug)}, nil
}

// Edit applies a modification request to an owned site and charges one AI
// usage unit in the same transaction as the update.
func (s *Service) Edit(ctx context.Context, actor types.Actor, siteID int64, instruction string) (*types.Site, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInstruction, "Valid modification request is required", nil)
	}
	if len(instruction) > types.MaxInstructionLength {
		return nil, types.NewAppError(types.ErrCodeValidationInstruction, "Modification request is too long", nil)
	}

	p := actor.Principal()
	site, err := s.sites.GetByID(ctx, siteID, p.AccountID)
	if err != nil {
		return nil, err
	}

	decision, err := s.entitlements.ShouldBlockAIUsage(ctx, p)
	if err != nil {
		return nil, err
	}
	if decision.Blocked {
		return nil, types.NewAppError(billing.KindAIUsage.LimitCode, decision.Reason, nil)
	}

	content, err := s.generator.Edit(ctx, site.Content, instruction)
	if err != nil {
		s.logger.ErrorContext(ctx, "portfolio edit failed",
			"account_id", p.AccountID,
			"site_id", siteID,
			"error", err,
		)
		return nil, asGenerationError(err)
	}

	unlimited, err := s.entitlements.IsUnlimitedAccount(ctx, p)
	if err != nil {
		return nil, err
	}

	var updated *types.Site
	err = db.WithTx(ctx, s.txBeginner, func(tx pgx.Tx) error {
		_, sites := s.txStores(tx)
		var err error
		updated, err = sites.UpdateContent(ctx, siteID, p.AccountID, external.ExtractTitle(content), content)
		if err != nil {
			return err
		}
		_, err = s.entitlements.ConsumeAIUsage(ctx, tx, p, 1, unlimited)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Rename changes an owned site's slug. A slug held by any other site fails
// with conflict_slug_taken and changes nothing.
func (s *Service) Rename(ctx context.Context, actor types.Actor, siteID int64, slug string) (*types.Site, error) {
	slug = strings.TrimSpace(slug)
	if err := types.ValidateSlug(slug); err != nil {
		return nil, err
	}
	return s.sites.UpdateSlug(ctx, siteID, actor.AccountID, slug)
}

// Delete removes an owned site, which frees a portfolio slot.
func (s *Service) Delete(ctx context.Context, actor types.Actor, siteID int64) error {
	if err := s.sites.Delete(ctx, siteID, actor.AccountID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "portfolio deleted", "account_id", actor.AccountID, "site_id", siteID)
	return nil
}

// List returns the caller's sites, newest first.
func (s *Service) List(ctx context.Context, actor types.Actor) ([]types.SiteSummary, error) {
	return s.sites.ListByUser(ctx, actor.AccountID)
}

// Get returns an owned site with its content.
func (s *Service) Get(ctx context.Context, actor types.Actor, siteID int64) (*types.Site, error) {
	return s.sites.GetByID(ctx, siteID, actor.AccountID)
}

// GetPublic returns the site published under slug.
func (s *Service) GetPublic(ctx context.Context, slug string) (*types.Site, error) {
	if !types.IsValidSlug(slug) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSite, "Website not found", nil)
	}
	return s.sites.GetBySlug(ctx, slug)
}

func (s *Service) validatePDF(pdf []byte) error {
	if len(pdf) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "No PDF file provided", nil)
	}
	if int64(len(pdf)) > s.cfg.MaxUploadBytes {
		return types.NewAppError(types.ErrCodeValidationFileTooLarge, "File is too large", nil)
	}
	if !mimetype.Detect(pdf).Is(pdfMIME) {
		return types.NewAppError(types.ErrCodeValidationInvalidFile, "File must be a PDF", nil)
	}
	return nil
}

// asGenerationError keeps the upstream_generation_failed code and hides
// any other detail behind it.
func asGenerationError(err error) error {
	if types.IsCode(err, types.ErrCodeUpstreamGeneration) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamGeneration, "Failed to generate portfolio", err)
}
