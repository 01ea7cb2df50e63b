package core

import (
	"log/slog"
	"net/http"
	"strconv"

	"viberesume/internal/ratelimit"
	"viberesume/internal/types"
)

// RateLimit enforces a per-account request budget over a fixed one-minute
// window. It runs after AuthMiddleware and keys on the account id.
//
// Every checked response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset. A rejected request gets 429 rate_limit_exceeded
// with Retry-After.
//
// Store errors fail open: this is traffic shaping, not an entitlement gate.
// With no store, no actor, or a non-positive limit the middleware passes
// through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.rateLimitPerMinute()
		if s.RateLimitStore == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		actor, ok := types.GetActor(r.Context())
		if !ok || actor.ExternalID == "" {
			next.ServeHTTP(w, r)
			return
		}

		now := s.now()
		result, err := s.RateLimitStore.Allow(r.Context(), actor.ExternalID, limit, now)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("external_id", actor.ExternalID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.Int64("account_id", actor.AccountID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(result.Reset.Sub(now).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Too many requests. Please retry after the reset time.",
					RequestID: types.GetRequestID(r.Context()),
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPerMinute() int {
	if s.Config == nil {
		return 0
	}
	return s.Config.Security.RateLimitPerMinute
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
}
