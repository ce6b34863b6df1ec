package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/common/test"
)

func TestHealthHandler(t *testing.T) {
	version := "1.0.0"

	tests := []struct {
		name     string
		flowErr  error
		csrfErr  error
		wantCode int
		wantBody Response
	}{
		{
			name:     "healthy system",
			wantCode: http.StatusOK,
			wantBody: Response{
				Status:  "healthy",
				Version: version,
				Details: map[string]any{
					"device_flow": map[string]any{"status": "healthy"},
					"csrf":        map[string]any{"status": "healthy"},
				},
			},
		},
		{
			name:     "device flow unhealthy",
			flowErr:  errors.New("service unavailable"),
			wantCode: http.StatusServiceUnavailable,
			wantBody: Response{
				Status:  "unhealthy",
				Version: version,
				Details: map[string]any{
					"device_flow": map[string]any{
						"status":  "unhealthy",
						"message": "service unavailable",
					},
					"csrf": map[string]any{"status": "healthy"},
				},
			},
		},
		{
			name:     "csrf store unhealthy",
			csrfErr:  errors.New("redis: connection refused"),
			wantCode: http.StatusServiceUnavailable,
			wantBody: Response{
				Status:  "unhealthy",
				Version: version,
				Details: map[string]any{
					"device_flow": map[string]any{"status": "healthy"},
					"csrf": map[string]any{
						"status":  "unhealthy",
						"message": "redis: connection refused",
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &test.MockFlow{CheckHealthFunc: func(ctx context.Context) error { return tt.flowErr }}
			csrf := &test.MockFlow{CheckHealthFunc: func(ctx context.Context) error { return tt.csrfErr }}

			handler := New(flow).WithVersion(version).WithCheck("csrf", csrf)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}

			var got Response
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
