package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"viberesume/internal/types"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Error
}

func TestAuthMiddleware_ValidBearer_InjectsActor(t *testing.T) {
	srv := newTestServer(t)
	want := &types.Actor{ExternalID: "user_2abc", AccountID: 7, Type: types.ActorTypeUser}
	mock := &MockAuthenticator{Actor: want}
	srv.Authenticator = mock

	var got types.Actor
	var found bool
	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = types.GetActor(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/websites", nil)
	req.Header.Set("Authorization", "Bearer eyJ.session.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !found || got != *want {
		t.Errorf("actor in context = %+v (found=%v), want %+v", got, found, *want)
	}
	if len(mock.Calls) != 1 || mock.Calls[0] != "eyJ.session.token" {
		t.Errorf("ResolveToken calls = %v", mock.Calls)
	}
}

func TestAuthMiddleware_SessionCookie(t *testing.T) {
	srv := newTestServer(t)
	mock := &MockAuthenticator{Actor: &types.Actor{ExternalID: "user_2abc", AccountID: 7}}
	srv.Authenticator = mock

	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/websites", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie.jwt.value"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(mock.Calls) != 1 || mock.Calls[0] != "cookie.jwt.value" {
		t.Errorf("ResolveToken calls = %v", mock.Calls)
	}
}

func TestAuthMiddleware_HeaderWinsOverCookie(t *testing.T) {
	srv := newTestServer(t)
	mock := &MockAuthenticator{Actor: &types.Actor{ExternalID: "user_2abc", AccountID: 7}}
	srv.Authenticator = mock

	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/v1/websites", nil)
	req.Header.Set("Authorization", "Bearer header.jwt")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie.jwt"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(mock.Calls) != 1 || mock.Calls[0] != "header.jwt" {
		t.Errorf("ResolveToken calls = %v", mock.Calls)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"no credentials", "", nil, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"non bearer scheme", "Basic dXNlcjpwYXNz", nil, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"empty bearer", "Bearer   ", nil, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{
			"invalid token", "Bearer bad",
			types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad signature", nil),
			http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid,
		},
		{
			"expired token", "Bearer old",
			types.NewAppError(types.ErrCodeAuthTokenExpired, "expired", nil),
			http.StatusUnauthorized, types.ErrCodeAuthTokenExpired,
		},
		{
			"no principal", "Bearer nosub",
			types.NewAppError(types.ErrCodeAuthNoPrincipal, "no subject", nil),
			http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid,
		},
		{
			"identity provider down", "Bearer good",
			types.NewAppError(types.ErrCodeUpstreamIdentityProvider, "clerk unavailable", nil),
			http.StatusBadGateway, types.ErrCodeUpstreamIdentityProvider,
		},
		{
			"database down", "Bearer good",
			types.NewAppError(types.ErrCodeInternalDB, "failed to read account", nil),
			http.StatusInternalServerError, types.ErrCodeInternalDB,
		},
		{
			"generic error", "Bearer good",
			errors.New("boom"),
			http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.Authenticator = &MockAuthenticator{Err: tt.err}

			called := false
			handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/websites", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req = req.WithContext(types.WithRequestID(req.Context(), "req-auth"))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if called {
				t.Error("downstream handler must not run")
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decodeErrorBody(t, rec)
			if body.Code != string(tt.wantCode) {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.RequestID != "req-auth" {
				t.Errorf("request_id = %q", body.RequestID)
			}
		})
	}
}

func TestAuthMiddleware_NilActor_Returns401(t *testing.T) {
	srv := newTestServer(t)
	srv.Authenticator = &MockAuthenticator{}

	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/websites", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_NilAuthenticator_PassesThrough(t *testing.T) {
	srv := newTestServer(t)

	called := false
	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/websites", nil))

	if !called {
		t.Error("expected pass-through without an authenticator")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer   padded  ", "padded"},
		{"Bearer ", ""},
		{"Bearer", ""},
		{"Token abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractBearerToken(tt.header); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
