package deviceflow

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/devicelogin/internal/validation"
)

var hexCode = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestRequestDeviceCode(t *testing.T) {
	flow, store, clock, _ := newTestFlow(t)
	ctx := context.Background()

	code, err := flow.RequestDeviceCode(ctx, "cli", "profile email")
	if err != nil {
		t.Fatalf("RequestDeviceCode() error = %v", err)
	}

	if !hexCode.MatchString(code.DeviceCode) {
		t.Errorf("device code %q is not %d hex characters", code.DeviceCode, DeviceCodeLength)
	}
	if err := validation.ValidateUserCode(code.UserCode); err != nil {
		t.Errorf("user code %q invalid: %v", code.UserCode, err)
	}
	if !strings.Contains(code.UserCode, "-") {
		t.Errorf("user code %q not in display form", code.UserCode)
	}

	want := &DeviceCode{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         "https://auth.example.com/device",
		VerificationURIComplete: "https://auth.example.com/device?user_code=" + code.UserCode,
		ExpiresIn:               900,
		Interval:                5,
		ExpiresAt:               clock.Now().Add(DefaultExpiryDuration),
		ClientID:                "cli",
		Scope:                   "profile email",
		LastPoll:                clock.Now(),
		Status:                  StatusPending,
	}
	if diff := cmp.Diff(want, code); diff != "" {
		t.Errorf("RequestDeviceCode() mismatch (-want +got):\n%s", diff)
	}

	stored, err := store.GetDeviceCodeByUserCode(ctx, strings.ToLower(code.UserCode))
	if err != nil || stored == nil {
		t.Fatalf("stored code not found by lowercase user code: %v", err)
	}
	if stored.DeviceCode != code.DeviceCode {
		t.Errorf("stored device code = %q, want %q", stored.DeviceCode, code.DeviceCode)
	}
}

func TestRequestDeviceCodeClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		wantCode string
	}{
		{name: "missing client", clientID: "", wantCode: ErrorCodeInvalidRequest},
		{name: "unknown client", clientID: "intruder", wantCode: ErrorCodeInvalidClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, _, _, _ := newTestFlow(t, WithAllowedClients("cli"))

			_, err := flow.RequestDeviceCode(context.Background(), tt.clientID, "")
			var dfErr *DeviceFlowError
			if !errors.As(err, &dfErr) {
				t.Fatalf("error = %v, want *DeviceFlowError", err)
			}
			if dfErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", dfErr.Code, tt.wantCode)
			}
			if !errors.Is(err, ErrInvalidClient) {
				t.Errorf("error does not wrap ErrInvalidClient: %v", err)
			}
		})
	}
}

func TestRequestDeviceCodeIndependentRequests(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)
	ctx := context.Background()

	first, err := flow.RequestDeviceCode(ctx, "cli", "")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := flow.RequestDeviceCode(ctx, "cli", "")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if first.DeviceCode == second.DeviceCode {
		t.Error("device codes should differ between requests")
	}
	if validation.NormalizeCode(first.UserCode) == validation.NormalizeCode(second.UserCode) {
		t.Error("user codes should differ between live requests")
	}
}

// conflictStore reports a user code collision a fixed number of times
type conflictStore struct {
	*MemoryStore
	conflicts int
	saves     int
}

func (s *conflictStore) SaveDeviceCode(ctx context.Context, code *DeviceCode, at time.Time) error {
	s.saves++
	if s.conflicts > 0 {
		s.conflicts--
		return ErrUserCodeConflict
	}
	return s.MemoryStore.SaveDeviceCode(ctx, code, at)
}

func TestRequestDeviceCodeRetriesUserCodeConflict(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	flow := NewFlow(store, &fakeIssuer{}, "https://auth.example.com", WithLogger(discardLogger()))

	if _, err := flow.RequestDeviceCode(context.Background(), "cli", ""); err != nil {
		t.Fatalf("RequestDeviceCode() error = %v", err)
	}
	if store.saves != 3 {
		t.Errorf("saves = %d, want 3", store.saves)
	}

	store.conflicts = maxUserCodeCollisions
	_, err := flow.RequestDeviceCode(context.Background(), "cli", "")
	if !errors.Is(err, ErrUserCodeConflict) {
		t.Errorf("error = %v, want ErrUserCodeConflict", err)
	}
}

func TestNewFlowClampsOptions(t *testing.T) {
	flow, _, _, _ := newTestFlow(t, WithExpiryDuration(time.Second), WithPollInterval(time.Second))

	if flow.expiryDuration != MinExpiryDuration {
		t.Errorf("expiry = %v, want %v", flow.expiryDuration, MinExpiryDuration)
	}
	if flow.pollInterval != MinPollInterval {
		t.Errorf("poll interval = %v, want %v", flow.pollInterval, MinPollInterval)
	}
}

func TestGetDeviceCode(t *testing.T) {
	flow, store, clock, _ := newTestFlow(t)
	ctx := context.Background()
	seedCode(t, store, clock, "device-1", "BCDF-GHJK")

	clock.Advance(5 * time.Minute)
	code, err := flow.GetDeviceCode(ctx, "device-1")
	if err != nil {
		t.Fatalf("GetDeviceCode() error = %v", err)
	}
	if code.ExpiresIn != 600 {
		t.Errorf("ExpiresIn = %d, want 600", code.ExpiresIn)
	}

	if _, err := flow.GetDeviceCode(ctx, "missing"); !errors.Is(err, ErrInvalidDeviceCode) {
		t.Errorf("missing code error = %v, want ErrInvalidDeviceCode", err)
	}

	clock.Advance(10 * time.Minute)
	if _, err := flow.GetDeviceCode(ctx, "device-1"); !errors.Is(err, ErrExpiredCode) {
		t.Errorf("expired code error = %v, want ErrExpiredCode", err)
	}
}

func TestSweepExpired(t *testing.T) {
	flow, store, clock, _ := newTestFlow(t)
	ctx := context.Background()

	seedCode(t, store, clock, "old", "BCDF-GHJK")
	clock.Advance(10 * time.Minute)
	seedCode(t, store, clock, "new", "LMNP-QRST")
	clock.Advance(6 * time.Minute)

	n, err := flow.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	if code, _ := store.GetDeviceCode(ctx, "old"); code != nil {
		t.Error("expired code still stored")
	}
	if code, _ := store.GetDeviceCode(ctx, "new"); code == nil {
		t.Error("live code was swept")
	}
}

func TestCheckHealth(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)
	if err := flow.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth() error = %v", err)
	}
}

func TestRunSweeperNonPositiveInterval(t *testing.T) {
	for _, every := range []time.Duration{0, -time.Second} {
		flow, _, _, _ := newTestFlow(t)

		done := make(chan struct{})
		go func() {
			flow.RunSweeper(context.Background(), every)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("RunSweeper(%v) did not return", every)
		}
	}
}
