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
)

const clerkAPIBase = "https://api.clerk.com"

// ClerkClientConfig holds the configuration for creating a ClerkClient.
type ClerkClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to clerkAPIBase
	Logger    *slog.Logger
}

// ClerkClient reads user records from the Clerk Backend API.
type ClerkClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewClerkClient creates a ClerkClient with its own circuit breaker.
func NewClerkClient(httpClient *http.Client, cfg ClerkClientConfig) *ClerkClient {
	base := NewBaseClient(
		httpClient,
		"clerk",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    250 * time.Millisecond,
			MaxWait:    3 * time.Second,
		},
		"VibeResume/1.0",
		WithFailureCode(types.ErrCodeUpstreamIdentityProvider),
	)
	return NewClerkClientWithBase(base, cfg)
}

// NewClerkClientWithBase creates a ClerkClient on a caller-provided BaseClient.
func NewClerkClientWithBase(base *BaseClient, cfg ClerkClientConfig) *ClerkClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = clerkAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ClerkClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

type clerkUser struct {
	ID                    string              `json:"id"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmailAddress `json:"email_addresses"`
}

type clerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Verification *struct {
		Status string `json:"status"`
	} `json:"verification"`
}

type clerkErrorResponse struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// GetAccountInfo fetches the user and returns their primary email address.
// Users without a primary address fall back to the first listed address.
func (c *ClerkClient) GetAccountInfo(ctx context.Context, externalID string) (*types.AccountInfo, error) {
	if externalID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no principal to look up", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/users/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build identity request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentityProvider, "identity provider request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewAppError(
			types.ErrCodeNotFoundAccount,
			fmt.Sprintf("identity provider has no user %s", externalID),
			nil,
		)
	case resp.StatusCode != http.StatusOK:
		return nil, c.handleErrorResponse(resp)
	}

	var user clerkUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentityProvider, "failed to decode identity provider user", err)
	}

	info := &types.AccountInfo{ExternalID: externalID}
	if addr := user.primaryEmail(); addr != nil {
		info.Email = addr.EmailAddress
		info.EmailVerified = addr.Verification != nil && addr.Verification.Status == "verified"
	} else {
		c.logger.WarnContext(ctx, "identity provider user has no email address", "external_id", externalID)
	}
	return info, nil
}

func (u *clerkUser) primaryEmail() *clerkEmailAddress {
	for i := range u.EmailAddresses {
		if u.EmailAddresses[i].ID == u.PrimaryEmailAddressID {
			return &u.EmailAddresses[i]
		}
	}
	if len(u.EmailAddresses) > 0 {
		return &u.EmailAddresses[0]
	}
	return nil
}

func (c *ClerkClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var clerkErr clerkErrorResponse
	_ = json.Unmarshal(body, &clerkErr)

	msg := http.StatusText(resp.StatusCode)
	if len(clerkErr.Errors) > 0 {
		msg = clerkErr.Errors[0].Message
	}
	return types.NewAppError(
		types.ErrCodeUpstreamIdentityProvider,
		fmt.Sprintf("identity provider error (%d): %s", resp.StatusCode, msg),
		nil,
	)
}
