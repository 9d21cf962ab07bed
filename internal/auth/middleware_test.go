package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-contest/internal/config"
	"ms-contest/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", AdminSubject(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAdminAuth_DisabledFailsClosed(t *testing.T) {
	var logs bytes.Buffer
	a, err := NewAdminAuth(context.Background(), config.AdminConfig{}, logger.NewWithWriter(&logs))
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/reset-votes", nil)
	req.Header.Set(AdminTokenHeader, "anything")
	a.Middleware(protectedHandler(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, logs.String(), "ADMIN_DENIED")
}

func TestAdminAuth_StaticToken(t *testing.T) {
	a, err := NewAdminAuth(context.Background(), config.AdminConfig{Token: "s3cret"}, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"valid token", AdminTokenHeader, "s3cret", http.StatusNoContent},
		{"wrong token", AdminTokenHeader, "nope", http.StatusUnauthorized},
		{"no credentials", "", "", http.StatusUnauthorized},
		{"bearer without oidc", "Authorization", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/api/contestants/1", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			a.Middleware(protectedHandler(t)).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAdminAuth_BearerToken(t *testing.T) {
	a := &AdminAuth{verify: func(_ context.Context, raw string) (string, error) {
		if raw == "good" {
			return "user-1", nil
		}
		return "", errors.New("bad signature")
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer good")
	a.Middleware(protectedHandler(t)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", rec.Header().Get("X-Subject"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer bad")
	a.Middleware(protectedHandler(t)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("Authorization", "Basic good")
	a.Middleware(protectedHandler(t)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
