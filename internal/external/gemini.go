package external

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"viberesume/internal/types"
)

const (
	geminiAPIBase      = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.5-flash"

	// DefaultTitle is used when a generated document has no usable <title>.
	DefaultTitle = "Portfolio"
)

const portfolioSystemPrompt = `You are an expert web developer and designer who builds professional portfolio websites.

Generate a complete, single-page HTML portfolio website from the attached resume PDF.

Requirements:
1. Pure HTML with a <style> block and TailwindCSS classes. Load Tailwind from https://cdn.tailwindcss.com in the head.
2. A modern, responsive layout that works on mobile and desktop.
3. Sections for whatever the resume contains: hero, about, experience, skills, education, projects, contact.
4. A cohesive blue and purple gradient color scheme.
5. Subtle hover effects and animations.
6. Clickable email and phone links when that information is present.
7. A headshot placeholder when no photo is provided.
8. A <title> of the form "[Name] - Portfolio".

Return ONLY the HTML document starting with <!DOCTYPE html>. No explanations, no markdown, no code fences.`

const editSystemPrompt = `You are an expert web developer editing an existing single-page HTML portfolio.

Apply the user's modification request to the document and return the complete updated HTML.
Keep everything the request does not mention unchanged. Keep the TailwindCSS CDN script and the <title> element.

Return ONLY the HTML document starting with <!DOCTYPE html>. No explanations, no markdown, no code fences.`

// GeminiClientConfig holds the configuration for creating a GeminiClient.
type GeminiClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string // Override for testing; defaults to geminiAPIBase
	Logger  *slog.Logger
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	base    *BaseClient
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

// NewGeminiClient creates a GeminiClient. Generation requests are never
// retried; httpClient should carry the generation timeout.
func NewGeminiClient(httpClient *http.Client, cfg GeminiClientConfig) *GeminiClient {
	base := NewBaseClient(
		httpClient,
		"gemini",
		NoRetryPolicy(),
		"VibeResume/1.0",
		WithFailureCode(types.ErrCodeUpstreamGeneration),
	)
	return NewGeminiClientWithBase(base, cfg)
}

// NewGeminiClientWithBase creates a GeminiClient on a caller-provided BaseClient.
func NewGeminiClientWithBase(base *BaseClient, cfg GeminiClientConfig) *GeminiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Wire types for generateContent.

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate turns a résumé PDF into a portfolio HTML document.
func (g *GeminiClient) Generate(ctx context.Context, pdf []byte) (string, error) {
	req := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: portfolioSystemPrompt}}},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: "application/pdf",
					Data:     base64.StdEncoding.EncodeToString(pdf),
				}},
				{Text: "Create the portfolio website for this resume."},
			},
		}},
	}
	return g.generateContent(ctx, "Generate", req)
}

// Edit applies a modification request to an existing document.
func (g *GeminiClient) Edit(ctx context.Context, document string, instruction string) (string, error) {
	req := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: editSystemPrompt}}},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: "Current HTML:\n" + document},
				{Text: "Modification request:\n" + instruction},
			},
		}},
	}
	return g.generateContent(ctx, "Edit", req)
}

func (g *GeminiClient) generateContent(ctx context.Context, operation string, body geminiRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode generation request", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build generation request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.base.Do(req)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("%s: model request failed", operation),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("%s: model returned %d: %s", operation, resp.StatusCode, apiErr.Error.Message),
			nil,
			map[string]any{"status": apiErr.Error.Status},
		)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamGeneration, operation+": failed to decode model response", err)
	}

	text := out.text()
	if text == "" {
		reason := ""
		if out.PromptFeedback != nil {
			reason = out.PromptFeedback.BlockReason
		}
		g.logger.WarnContext(ctx, "model returned no content",
			"operation", operation,
			"model", g.model,
			"block_reason", reason,
		)
		return "", types.NewAppError(types.ErrCodeUpstreamGeneration, operation+": model returned no content", nil)
	}
	return text, nil
}

// text joins the text parts of the first candidate and strips code fences.
func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return StripCodeFences(sb.String())
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// ExtractTitle returns the document's <title> text, or DefaultTitle.
func ExtractTitle(document string) string {
	m := titleRe.FindStringSubmatch(document)
	if m == nil {
		return DefaultTitle
	}
	title := strings.TrimSpace(html.UnescapeString(m[1]))
	if title == "" {
		return DefaultTitle
	}
	return title
}
