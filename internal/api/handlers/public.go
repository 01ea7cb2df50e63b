package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"viberesume/internal/types"
)

// PublicSiteService resolves a published portfolio by slug.
// Satisfied by *sites.Service.
type PublicSiteService interface {
	GetPublic(ctx context.Context, slug string) (*types.Site, error)
}

const (
	publicCacheControl = "public, max-age=60, stale-while-revalidate=300"

	notFoundPage = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Not found</title></head>
<body><h1>Portfolio not found</h1><p>There is no portfolio at this address.</p></body></html>`

	errorPage = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Error</title></head>
<body><h1>Something went wrong</h1><p>Please try again later.</p></body></html>`
)

// PublicSiteHandler serves generated portfolios as HTML. It is mounted
// outside /v1 and needs no session.
type PublicSiteHandler struct {
	svc    PublicSiteService
	logger *slog.Logger
}

// NewPublicSiteHandler creates a PublicSiteHandler.
func NewPublicSiteHandler(svc PublicSiteService, l *slog.Logger) *PublicSiteHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PublicSiteHandler{svc: svc, logger: l}
}

// RegisterRoutes mounts GET /sites/{slug} on r. Responses are gzip
// compressed when the client accepts it.
func (h *PublicSiteHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sites/{slug}", gzhttp.GzipHandler(http.HandlerFunc(h.Serve)))
}

// Serve writes the stored HTML document for the slug.
func (h *PublicSiteHandler) Serve(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	site, err := h.svc.GetPublic(r.Context(), slug)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundSite) {
			writeHTML(w, http.StatusNotFound, notFoundPage, "no-store")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load public site",
			"slug", slug,
			"error", err,
		)
		writeHTML(w, http.StatusInternalServerError, errorPage, "no-store")
		return
	}

	writeHTML(w, http.StatusOK, site.Content, publicCacheControl)
}

func writeHTML(w http.ResponseWriter, status int, body, cacheControl string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
