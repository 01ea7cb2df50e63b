package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"viberesume/internal/types"
)

// SessionCookieName is the cookie the identity provider's frontend SDK sets
// for same-site requests.
const SessionCookieName = "__session"

// AuthMiddleware authenticates every request it wraps.
//
//  1. Reads the Bearer token from Authorization, falling back to the
//     __session cookie.
//  2. Resolves it to an Actor through the Authenticator, which also resolves
//     (and on first sight creates) the local account.
//  3. Injects the Actor into the request context.
//
// Token failures answer 401 with auth_token_missing, auth_token_invalid or
// auth_token_expired. Resolution failures (identity provider, database) keep
// their own code and status.
//
// With no Authenticator configured the middleware passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := sessionToken(r)
		if !ok {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
			return
		}
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		annotateActor(r.Context(), actor.AccountID)
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// sessionToken returns the presented token. ok is false when the request
// carries neither an Authorization header nor a session cookie; an
// Authorization header that is not a Bearer credential yields ("", true).
func sessionToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h), true
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// extractBearerToken parses "Bearer <token>" with a case-insensitive scheme
// (RFC 7235). Returns "" if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// handleAuthError writes the response for a ResolveToken failure.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.Warn("authentication failed: token expired",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid, types.ErrCodeAuthTokenMissing, types.ErrCodeAuthNoPrincipal:
			s.Logger.Warn("authentication failed: token invalid",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		default:
			// The token was good; resolving the account failed.
			s.Logger.ErrorContext(r.Context(), "principal resolution failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			Error(w, r, appErr)
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

// writeAuthError writes a 401 error envelope.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
