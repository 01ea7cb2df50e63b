package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"viberesume/internal/types"
)

// SiteRepository provides data access for the sites table. Every mutating
// query is scoped by owner so one account can never touch another's rows.
type SiteRepository struct {
	db DBTX
}

// NewSiteRepository creates a new SiteRepository.
func NewSiteRepository(db DBTX) *SiteRepository {
	return &SiteRepository{db: db}
}

const siteColumns = `id, user_id, slug, title, content, created_at, updated_at`

func scanSite(row pgx.Row) (*types.Site, error) {
	var s types.Site
	err := row.Scan(&s.ID, &s.UserID, &s.Slug, &s.Title, &s.Content, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func errSiteNotFound() error {
	return types.NewAppError(types.ErrCodeNotFoundSite, "Website not found", nil)
}

func errSlugTaken() error {
	return types.NewAppError(types.ErrCodeConflictSlugTaken, "This slug is already taken", nil)
}

// Create inserts the site and fills in its id and timestamps.
func (r *SiteRepository) Create(ctx context.Context, site *types.Site) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO sites (user_id, slug, title, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		site.UserID,
		site.Slug,
		site.Title,
		site.Content,
	).Scan(&site.ID, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errSlugTaken()
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create website", err)
	}
	return nil
}

// GetByID returns a site owned by userID.
func (r *SiteRepository) GetByID(ctx context.Context, id, userID int64) (*types.Site, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errSiteNotFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve website", err)
	}
	return s, nil
}

// GetBySlug returns a site by its public slug regardless of owner.
func (r *SiteRepository) GetBySlug(ctx context.Context, slug string) (*types.Site, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE slug = $1`,
		slug,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errSiteNotFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve website", err)
	}
	return s, nil
}

// ListByUser returns the owner's sites, newest first, without content.
func (r *SiteRepository) ListByUser(ctx context.Context, userID int64) ([]types.SiteSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, slug, title, created_at, updated_at
		 FROM sites WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list websites", err)
	}
	defer rows.Close()

	out := make([]types.SiteSummary, 0)
	for rows.Next() {
		var s types.SiteSummary
		if err := rows.Scan(&s.ID, &s.Slug, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan website", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list websites", err)
	}
	return out, nil
}

// CountByUser returns how many sites the account owns. This is the
// authoritative portfolio count; there is no stored counter for it.
func (r *SiteRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM sites WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count websites", err)
	}
	return count, nil
}

// UpdateSlug renames a site. A slug owned by any other site yields
// conflict_slug_taken and leaves both rows unchanged.
func (r *SiteRepository) UpdateSlug(ctx context.Context, id, userID int64, slug string) (*types.Site, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE sites SET slug = $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+siteColumns,
		id, userID, slug,
	)
	s, err := scanSite(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, errSiteNotFound()
		case isUniqueViolation(err):
			return nil, errSlugTaken()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update website slug", err)
	}
	return s, nil
}

// UpdateContent replaces a site's HTML body and title.
func (r *SiteRepository) UpdateContent(ctx context.Context, id, userID int64, title, content string) (*types.Site, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE sites SET title = $3, content = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+siteColumns,
		id, userID, title, content,
	)
	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errSiteNotFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update website", err)
	}
	return s, nil
}

// Delete removes a site owned by userID.
func (r *SiteRepository) Delete(ctx context.Context, id, userID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sites WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete website", err)
	}
	if tag.RowsAffected() == 0 {
		return errSiteNotFound()
	}
	return nil
}
