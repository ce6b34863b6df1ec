package deviceflow

import (
	"regexp"
	"strings"
	"testing"

	"github.com/wrale/devicelogin/internal/validation"
)

func TestVerificationURIs(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		userCode     string
		wantURI      string
		wantComplete string
	}{
		{
			name:         "display code",
			baseURL:      "https://auth.example.com",
			userCode:     "BCDF-GHJK",
			wantURI:      "https://auth.example.com/device",
			wantComplete: "https://auth.example.com/device?user_code=BCDF-GHJK",
		},
		{
			name:         "canonical code is formatted",
			baseURL:      "https://auth.example.com/",
			userCode:     "bcdfghjk",
			wantURI:      "https://auth.example.com/device",
			wantComplete: "https://auth.example.com/device?user_code=BCDF-GHJK",
		},
		{
			name:         "base path preserved",
			baseURL:      "https://example.com/auth",
			userCode:     "LMNP-QRST",
			wantURI:      "https://example.com/auth/device",
			wantComplete: "https://example.com/auth/device?user_code=LMNP-QRST",
		},
		{
			name:         "invalid code has no complete uri",
			baseURL:      "https://auth.example.com",
			userCode:     "BAD",
			wantURI:      "https://auth.example.com/device",
			wantComplete: "",
		},
		{
			name:         "unparseable base url",
			baseURL:      "://bad",
			userCode:     "BCDF-GHJK",
			wantURI:      "",
			wantComplete: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Flow{baseURL: tt.baseURL}
			uri, complete := f.verificationURIs(tt.userCode)
			if uri != tt.wantURI {
				t.Errorf("verification_uri = %q, want %q", uri, tt.wantURI)
			}
			if complete != tt.wantComplete {
				t.Errorf("verification_uri_complete = %q, want %q", complete, tt.wantComplete)
			}
		})
	}
}

func TestNewUserCode(t *testing.T) {
	display := regexp.MustCompile(`^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`)
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		code, err := newUserCode()
		if err != nil {
			t.Fatalf("newUserCode() error = %v", err)
		}
		if !display.MatchString(code) {
			t.Fatalf("code %q is not in display form", code)
		}
		if err := validation.ValidateUserCode(code); err != nil {
			t.Fatalf("generated code rejected: %v", err)
		}
		seen[code] = true
	}
	// 20^8 possible codes; 200 draws colliding more than once means a broken source
	if len(seen) < 199 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestNewDeviceCode(t *testing.T) {
	a, err := newDeviceCode()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newDeviceCode()
	if len(a) != DeviceCodeLength || strings.Trim(a, "0123456789abcdef") != "" {
		t.Errorf("device code %q is not %d lowercase hex characters", a, DeviceCodeLength)
	}
	if a == b {
		t.Error("two device codes are equal")
	}
}
