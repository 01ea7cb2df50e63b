package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidFile   ErrorCode = "validation_invalid_file"
	ErrCodeValidationFileTooLarge  ErrorCode = "validation_file_too_large"
	ErrCodeValidationInvalidSlug   ErrorCode = "validation_invalid_slug"
	ErrCodeValidationInvalidID     ErrorCode = "validation_invalid_id"
	ErrCodeValidationInvalidAmount ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInstruction   ErrorCode = "validation_invalid_instruction"
	ErrCodeValidationInvalidBody   ErrorCode = "validation_invalid_body"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"
	ErrCodeAuthNoPrincipal  ErrorCode = "auth_no_principal"

	// Limits (403/429)
	ErrCodeLimitAIUsage    ErrorCode = "limit_ai_usage_exceeded"
	ErrCodeLimitPortfolios ErrorCode = "limit_portfolios_exceeded"
	ErrCodeLimitCheck      ErrorCode = "limit_check_failed"
	ErrCodeRateLimit       ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundAccount ErrorCode = "not_found_account"
	ErrCodeNotFoundSite    ErrorCode = "not_found_site"

	// Conflict (409)
	ErrCodeConflictSlugTaken ErrorCode = "conflict_slug_taken"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB               ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected       ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamGeneration       ErrorCode = "upstream_generation_failed"
	ErrCodeUpstreamIdentityProvider ErrorCode = "upstream_identity_provider"
	ErrCodeUpstreamBillingProvider  ErrorCode = "upstream_billing_provider"
	ErrCodeUpstreamUnavailable      ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited      ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "limit_"):
		return http.StatusForbidden // 403
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
