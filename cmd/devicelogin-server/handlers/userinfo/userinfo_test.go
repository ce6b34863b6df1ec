package userinfo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/devicelogin/internal/session"
)

func TestUserInfo(t *testing.T) {
	issuer := session.NewIssuer([]byte("test-secret-with-enough-bytes!!!"), "devicelogin-test", time.Hour)
	handler := session.RequireAccessToken(issuer)(New())

	access, err := issuer.IssueToken(context.Background(), "alice", "cli", "profile")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	sessionToken, err := issuer.SessionToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("SessionToken() error = %v", err)
	}

	tests := []struct {
		name       string
		auth       string
		wantStatus int
		wantBody   *Response
	}{
		{
			name:       "valid access token",
			auth:       "Bearer " + access.AccessToken,
			wantStatus: http.StatusOK,
			wantBody:   &Response{Subject: "alice", ClientID: "cli", Scope: "profile"},
		},
		{
			name:       "no token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "session token is not an access token",
			auth:       "Bearer " + sessionToken,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage",
			auth:       "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody == nil {
				return
			}

			var got Response
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(*tt.wantBody, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUserInfoWithoutMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	New().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/userinfo", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
