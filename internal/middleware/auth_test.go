package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stegline/core/internal/middleware"
)

const secret = "test-secret"

func sign(t *testing.T, claims middleware.Claims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("SignedString err: %v", err)
	}
	return s
}

func TestAuth(t *testing.T) {
	var gotUser string
	h := middleware.Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = middleware.GetUserID(r.Context())
	}))

	valid := sign(t, middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}, secret)
	expired := sign(t, middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}, secret)
	forged := sign(t, middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}, "other")
	noSubject := sign(t, middleware.Claims{}, secret)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "valid header", header: "Bearer " + valid, status: http.StatusOK},
		{name: "valid query", query: "?access_token=" + valid, status: http.StatusOK},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "bad scheme", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "forged", header: "Bearer " + forged, status: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubject, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && gotUser != "alice" {
				t.Fatalf("unexpected user: %q", gotUser)
			}
		})
	}
}

func TestValidateConversationID(t *testing.T) {
	if err := middleware.ValidateConversationID("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed id")
	}
	if err := middleware.ValidateConversationID("0190f6c2-7b5e-7c4a-9c1f-3f4a5b6c7d8e"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := middleware.ValidateMessageContent("   "); err == nil {
		t.Fatal("expected error for blank content")
	}
	if err := middleware.ValidateMessageContent("hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
