// Package handlers contains the HTTP handlers for the VibeResume API.
//
// Handlers decode and validate requests, take the Actor from the request
// context and delegate to the domain services. They never make entitlement
// decisions themselves.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"viberesume/internal/core"
	"viberesume/internal/sites"
	"viberesume/internal/types"
)

// --- Service Interfaces ---

// WebsiteService is the portfolio lifecycle as used by WebsiteHandler.
// Satisfied by *sites.Service.
type WebsiteService interface {
	Generate(ctx context.Context, actor types.Actor, pdf []byte) (*sites.Generated, error)
	Edit(ctx context.Context, actor types.Actor, siteID int64, instruction string) (*types.Site, error)
	Rename(ctx context.Context, actor types.Actor, siteID int64, slug string) (*types.Site, error)
	Delete(ctx context.Context, actor types.Actor, siteID int64) error
	List(ctx context.Context, actor types.Actor) ([]types.SiteSummary, error)
	Get(ctx context.Context, actor types.Actor, siteID int64) (*types.Site, error)
	URLFor(slug string) string
}

// --- Request/Response Models ---

// RenameWebsiteRequest is the body of PATCH /v1/websites/{id}.
type RenameWebsiteRequest struct {
	Slug string `json:"slug" validate:"required,slug"`
}

// EditWebsiteRequest is the body of PUT /v1/websites/{id}/edit.
type EditWebsiteRequest struct {
	ModificationRequest string `json:"modificationRequest" validate:"required,max=4000"`
}

// CreatedWebsite is the 201 body of POST /v1/websites.
type CreatedWebsite struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// WebsiteDTO is a site as returned to its owner.
type WebsiteDTO struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	// pdfFormField is the multipart field carrying the résumé.
	pdfFormField = "pdf"

	// multipartOverhead is allowed on top of the file size for boundaries
	// and part headers.
	multipartOverhead = 64 << 10

	// multipartMemory is how much of a form is held in memory before
	// spilling to temp files.
	multipartMemory = 32 << 20
)

// --- Handler ---

// WebsiteHandler serves the owner-facing portfolio endpoints.
type WebsiteHandler struct {
	svc            WebsiteService
	validator      *core.Validator
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewWebsiteHandler creates a WebsiteHandler.
func NewWebsiteHandler(svc WebsiteService, v *core.Validator, maxUploadBytes int64, l *slog.Logger) *WebsiteHandler {
	if l == nil {
		l = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = sites.DefaultMaxUploadBytes
	}
	return &WebsiteHandler{svc: svc, validator: v, maxUploadBytes: maxUploadBytes, logger: l}
}

// RegisterRoutes mounts the website routes on r.
func (h *WebsiteHandler) RegisterRoutes(r chi.Router) {
	r.Route("/websites", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Rename)
			r.Delete("/", h.Delete)
			r.Put("/edit", h.Edit)
		})
	})
}

// List handles GET /v1/websites.
func (h *WebsiteHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	summaries, err := h.svc.List(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]WebsiteDTO, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, WebsiteDTO{
			ID:        s.ID,
			Slug:      s.Slug,
			Title:     s.Title,
			URL:       h.svc.URLFor(s.Slug),
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	core.Data(w, r, http.StatusOK, out)
}

// Create handles POST /v1/websites: multipart upload of a résumé PDF in the
// "pdf" field. Returns 201 with the new site and its public URL.
func (h *WebsiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	pdf, err := h.readUpload(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	generated, err := h.svc.Generate(r.Context(), actor, pdf)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "portfolio created",
		"account_id", actor.AccountID,
		"site_id", generated.Site.ID,
	)
	core.Data(w, r, http.StatusCreated, CreatedWebsite{
		ID:    generated.Site.ID,
		Slug:  generated.Site.Slug,
		Title: generated.Site.Title,
		URL:   generated.URL,
	})
}

// readUpload extracts the PDF bytes from the multipart body. The body is
// capped so an oversized upload is rejected without being buffered whole.
func (h *WebsiteHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, types.NewAppError(types.ErrCodeValidationFileTooLarge, "File is too large", err)
		}
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "No PDF file provided", err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(pdfFormField)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "No PDF file provided", err)
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		return nil, types.NewAppError(types.ErrCodeValidationFileTooLarge, "File is too large", nil)
	}

	pdf, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidFile, "Failed to read uploaded file", err)
	}
	return pdf, nil
}

// Get handles GET /v1/websites/{id}.
func (h *WebsiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := siteIDParam(w, r)
	if !ok {
		return
	}

	site, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, h.toDTO(site, true))
}

// Rename handles PATCH /v1/websites/{id}.
func (h *WebsiteHandler) Rename(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := siteIDParam(w, r)
	if !ok {
		return
	}

	var req RenameWebsiteRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	site, err := h.svc.Rename(r.Context(), actor, id, req.Slug)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, h.toDTO(site, false))
}

// Edit handles PUT /v1/websites/{id}/edit.
func (h *WebsiteHandler) Edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := siteIDParam(w, r)
	if !ok {
		return
	}

	var req EditWebsiteRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if strings.TrimSpace(req.ModificationRequest) == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInstruction, "Modification request is required", nil))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInstruction, "Modification request is too long", err))
		return
	}

	site, err := h.svc.Edit(r.Context(), actor, id, req.ModificationRequest)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, h.toDTO(site, true))
}

// Delete handles DELETE /v1/websites/{id}.
func (h *WebsiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := siteIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		core.Error(w, r, err)
		return
	}
	core.NoContent(w)
}

func (h *WebsiteHandler) toDTO(site *types.Site, withContent bool) WebsiteDTO {
	dto := WebsiteDTO{
		ID:        site.ID,
		Slug:      site.Slug,
		Title:     site.Title,
		URL:       h.svc.URLFor(site.Slug),
		CreatedAt: site.CreatedAt,
		UpdatedAt: site.UpdatedAt,
	}
	if withContent {
		dto.Content = site.Content
	}
	return dto
}

// --- Helpers ---

// requireActor returns the authenticated Actor or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.AccountID == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthNoPrincipal, "Authentication required", nil))
		return types.Actor{}, false
	}
	return actor, true
}

// siteIDParam parses the {id} path parameter or writes a 400.
func siteIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidID, "Invalid website id", err))
		return 0, false
	}
	return id, true
}
