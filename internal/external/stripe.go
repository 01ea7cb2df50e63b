package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"viberesume/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// subscriptionSearchLimit bounds the number of subscriptions examined for one
// account. A principal normally has at most one or two.
const subscriptionSearchLimit = 20

// StripeClientConfig holds the configuration for creating a StripePlanClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripePlanClient answers "does this principal hold plan X" from Stripe
// subscriptions. Subscriptions are linked to principals through the
// external_id metadata key written at checkout.
type StripePlanClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripePlanClient creates a StripePlanClient with its own circuit breaker.
func NewStripePlanClient(httpClient *http.Client, cfg StripeClientConfig) *StripePlanClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"VibeResume/1.0",
		WithFailureCode(types.ErrCodeUpstreamBillingProvider),
	)
	return NewStripePlanClientWithBase(base, cfg)
}

// NewStripePlanClientWithBase creates a StripePlanClient on a caller-provided
// BaseClient.
func NewStripePlanClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripePlanClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripePlanClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// HasPlan reports whether the principal has an active or trialing
// subscription with an item whose price lookup key equals planID.
func (s *StripePlanClient) HasPlan(ctx context.Context, externalID string, planID string) (bool, error) {
	if externalID == "" {
		return false, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no principal to check plan for", nil)
	}

	params := url.Values{}
	params.Set("query", fmt.Sprintf("metadata['external_id']:'%s'", escapeSearchValue(externalID)))
	params.Set("limit", fmt.Sprintf("%d", subscriptionSearchLimit))
	params.Add("expand[]", "data.items.data.price")

	resp, err := s.doGet(ctx, "/v1/subscriptions/search", params)
	if err != nil {
		return false, s.wrapStripeError("HasPlan", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, s.handleErrorResponse(resp, "HasPlan")
	}

	var result stripe.SubscriptionSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, types.NewAppError(
			types.ErrCodeUpstreamBillingProvider,
			"HasPlan: failed to decode Stripe subscription search",
			err,
		)
	}

	for _, sub := range result.Data {
		if subscriptionGrants(sub, planID) {
			return true, nil
		}
	}

	s.logger.DebugContext(ctx, "no matching subscription",
		"external_id", externalID,
		"plan", planID,
		"subscriptions", len(result.Data),
	)
	return false, nil
}

func subscriptionGrants(sub *stripe.Subscription, planID string) bool {
	if sub == nil {
		return false
	}
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return false
	}
	if sub.Items == nil {
		return false
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.LookupKey == planID {
			return true
		}
	}
	return false
}

// escapeSearchValue escapes a value for use inside a single-quoted Stripe
// search clause.
func escapeSearchValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripePlanClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripePlanClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBillingProvider,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	_ = json.Unmarshal(body, &stripeErr)

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamBillingProvider,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
		map[string]any{
			"stripe_type": stripeErr.Error.Type,
			"stripe_code": stripeErr.Error.Code,
		},
	)
}

// wrapStripeError keeps AppErrors from BaseClient and wraps anything else.
func (s *StripePlanClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBillingProvider,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}
