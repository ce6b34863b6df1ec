package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/oauth2"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

// expectForm records a mismatch between the posted form and want
func expectForm(t *testing.T, r *http.Request, path string, want map[string]string) {
	t.Helper()
	if r.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", r.Method)
	}
	if r.URL.Path != path {
		t.Errorf("path = %s, want %s", r.URL.Path, path)
	}
	if err := r.ParseForm(); err != nil {
		t.Errorf("ParseForm() error = %v", err)
		return
	}
	for k, v := range want {
		if got := r.PostForm.Get(k); got != v {
			t.Errorf("form %s = %q, want %q", k, got, v)
		}
	}
}

func TestNewClient(t *testing.T) {
	for _, bad := range []string{"", "ftp://example.com"} {
		if _, err := NewClient(bad, nil); err == nil {
			t.Errorf("NewClient(%q) succeeded", bad)
		}
	}

	client, err := NewClient("https://auth.example.com/", nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.baseURL != "https://auth.example.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
}

func TestRequestCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		expectForm(t, r, DeviceCodePath, map[string]string{
			"client_id": "devicelogin-cli",
			"scope":     "profile email",
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":               "dc-123",
			"user_code":                 "BCDF-GHJK",
			"verification_uri":          "https://auth.example.com/device",
			"verification_uri_complete": "https://auth.example.com/device?user_code=BCDF-GHJK",
			"expires_in":                900,
			"interval":                  7,
		})
	})

	auth, err := client.RequestCode(context.Background(), "devicelogin-cli", "profile email")
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}

	want := &DeviceAuthorization{
		DeviceCode:              "dc-123",
		UserCode:                "BCDF-GHJK",
		VerificationURI:         "https://auth.example.com/device",
		VerificationURIComplete: "https://auth.example.com/device?user_code=BCDF-GHJK",
		ExpiresIn:               900,
		Interval:                7 * time.Second,
		ClientID:                "devicelogin-cli",
		Scope:                   "profile email",
	}
	// expires_in is recomputed from the expiry time and may lose a second
	if diff := cmp.Diff(want, auth, cmpopts.IgnoreFields(DeviceAuthorization{}, "ExpiresIn", "ExpiresAt")); diff != "" {
		t.Errorf("RequestCode() mismatch (-want +got):\n%s", diff)
	}
	if auth.ExpiresIn < 898 || auth.ExpiresIn > 900 {
		t.Errorf("ExpiresIn = %d, want about 900", auth.ExpiresIn)
	}
}

func TestRequestCodeDefaultInterval(t *testing.T) {
	for _, interval := range []any{nil, 0, -3} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body := map[string]any{
				"device_code":      "dc-123",
				"user_code":        "BCDF-GHJK",
				"verification_uri": "https://auth.example.com/device",
				"expires_in":       600,
			}
			if interval != nil {
				body["interval"] = interval
			}
			writeJSON(w, http.StatusOK, body)
		})

		auth, err := client.RequestCode(context.Background(), "cli", "")
		if err != nil {
			t.Fatalf("interval %v: RequestCode() error = %v", interval, err)
		}
		if auth.Interval != DefaultInterval {
			t.Errorf("interval %v: Interval = %v, want %v", interval, auth.Interval, DefaultInterval)
		}
	}
}

func TestRequestCodeServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "Unknown client",
		})
	})

	_, err := client.RequestCode(context.Background(), "intruder", "")

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("RequestCode() error = %v, want *ServerError", err)
	}
	want := &ServerError{StatusCode: http.StatusUnauthorized, Code: "invalid_client", Description: "Unknown client"}
	if diff := cmp.Diff(want, serverErr); diff != "" {
		t.Errorf("ServerError mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestCodeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.RequestCode(context.Background(), "cli", ""); !errors.Is(err, ErrNetwork) {
		t.Errorf("RequestCode() error = %v, want ErrNetwork", err)
	}
}

func TestRequestCodeIncompleteResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"device_code": "dc-123"})
	})

	if _, err := client.RequestCode(context.Background(), "cli", ""); err == nil {
		t.Error("RequestCode() accepted a response without user_code")
	}
}

func TestExchangeDeviceCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		expectForm(t, r, TokenPath, map[string]string{
			"grant_type":  GrantTypeDeviceCode,
			"device_code": "dc-123",
			"client_id":   "cli",
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at-1",
			"expires_in":   3600,
			"scope":        "profile",
		})
	})

	token, err := client.ExchangeDeviceCode(context.Background(), "cli", "dc-123")
	if err != nil {
		t.Fatalf("ExchangeDeviceCode() error = %v", err)
	}
	want := &Token{AccessToken: "at-1", TokenType: "Bearer", ExpiresIn: 3600, Scope: "profile"}
	if diff := cmp.Diff(want, token); diff != "" {
		t.Errorf("ExchangeDeviceCode() mismatch (-want +got):\n%s", diff)
	}
}

func TestExchangeDeviceCodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantToken *TokenError
	}{
		{
			name:      "authorization pending",
			status:    http.StatusBadRequest,
			body:      `{"error":"authorization_pending"}`,
			wantToken: &TokenError{Code: ErrorAuthorizationPending},
		},
		{
			name:      "slow down with description",
			status:    http.StatusBadRequest,
			body:      `{"error":"slow_down","error_description":"Polling too frequently"}`,
			wantToken: &TokenError{Code: ErrorSlowDown, Description: "Polling too frequently"},
		},
		{
			name:      "pending sent with status 200",
			status:    http.StatusOK,
			body:      `{"error":"authorization_pending"}`,
			wantToken: &TokenError{Code: ErrorAuthorizationPending},
		},
		{
			name:      "denied sent with status 200",
			status:    http.StatusOK,
			body:      `{"error":"access_denied","error_description":"User said no"}`,
			wantToken: &TokenError{Code: "access_denied", Description: "User said no"},
		},
		{
			name:   "non json error",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
		},
		{
			name:   "success without access token",
			status: http.StatusOK,
			body:   `{"token_type":"Bearer"}`,
		},
		{
			name:   "malformed success body",
			status: http.StatusOK,
			body:   `{"access_token":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			token, err := client.ExchangeDeviceCode(context.Background(), "cli", "dc-123")
			if err == nil || token != nil {
				t.Fatalf("ExchangeDeviceCode() = %v, %v; want error", token, err)
			}

			var tokenErr *TokenError
			isTokenErr := errors.As(err, &tokenErr)
			if tt.wantToken == nil {
				if isTokenErr {
					t.Errorf("unexpected TokenError: %v", err)
				}
				return
			}
			if !isTokenErr {
				t.Fatalf("ExchangeDeviceCode() error = %v, want *TokenError", err)
			}
			if diff := cmp.Diff(tt.wantToken, tokenErr); diff != "" {
				t.Errorf("TokenError mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUserInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != UserInfoPath {
			t.Errorf("path = %s, want %s", r.URL.Path, UserInfoPath)
		}
		if r.Header.Get("Authorization") != "Bearer at-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sub": "alice", "client_id": "cli"})
	})

	info, err := client.UserInfo(context.Background(), &oauth2.Token{AccessToken: "at-1", TokenType: "Bearer"})
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if diff := cmp.Diff(&UserInfo{Subject: "alice", ClientID: "cli"}, info); diff != "" {
		t.Errorf("UserInfo() mismatch (-want +got):\n%s", diff)
	}

	_, err = client.UserInfo(context.Background(), &oauth2.Token{AccessToken: "stale", TokenType: "Bearer"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("UserInfo(stale) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenOAuth2(t *testing.T) {
	obtained := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tok := (&Token{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 60}).OAuth2(obtained)
	if want := obtained.Add(time.Minute); !tok.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, want)
	}

	tok = (&Token{AccessToken: "at", TokenType: "Bearer"}).OAuth2(obtained)
	if !tok.Expiry.IsZero() {
		t.Errorf("Expiry = %v, want zero without expires_in", tok.Expiry)
	}
}
