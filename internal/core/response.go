package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"viberesume/internal/types"
)

// maxRequestBodySize caps JSON request bodies. Uploads go through the
// multipart path and have their own limit.
const maxRequestBodySize = 1 << 20

// APIResponse wraps every successful JSON body as {"data": ...}.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse wraps every error body as {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data as-is with the given status. A value that cannot be
// marshalled becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeUnexpected(w, r, "failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Data writes data wrapped in the APIResponse envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, data any) {
	JSON(w, r, status, APIResponse{Data: data})
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err as an APIErrorResponse. An AppError anywhere in the chain
// supplies the status, code, message and details; its wrapped cause is never
// sent. Any other error is a generic 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		writeUnexpected(w, r, "an unexpected error occurred")
		return
	}
	JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

func writeUnexpected(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// DecodeJSON decodes exactly one JSON value of at most 1MB into dst,
// rejecting unknown fields. Every failure is validation_invalid_body.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return invalidBody("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidBody(message string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidBody, message, err)
}

func mapDecodeError(err error) *types.AppError {
	var (
		maxBytesErr      *http.MaxBytesError
		syntaxErr        *json.SyntaxError
		unmarshalTypeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return invalidBody("request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return invalidBody("malformed JSON in request body", err)
	case errors.As(err, &unmarshalTypeErr):
		return invalidBody("invalid value for field", err).WithDetails(map[string]any{
			"field":    unmarshalTypeErr.Field,
			"expected": unmarshalTypeErr.Type.String(),
		})
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return invalidBody("unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return invalidBody("request body must not be empty", err)
	default:
		return invalidBody("invalid JSON in request body", err)
	}
}
