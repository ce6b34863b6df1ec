package deviceflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced clock shared by a flow and its store
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeIssuer records the subjects it issued tokens for
type fakeIssuer struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (i *fakeIssuer) IssueToken(ctx context.Context, subject, clientID, scope string) (*TokenResponse, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	i.subjects = append(i.subjects, subject)
	return &TokenResponse{
		AccessToken: fmt.Sprintf("token-for-%s", subject),
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scope:       scope,
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFlow returns a flow over a memory store with a shared test clock
func newTestFlow(t *testing.T, opts ...Option) (*Flow, *MemoryStore, *testClock, *fakeIssuer) {
	t.Helper()

	clock := newTestClock()
	store := NewMemoryStore()
	issuer := &fakeIssuer{}

	base := []Option{WithClock(clock.Now), WithLogger(discardLogger())}
	flow := NewFlow(store, issuer, "https://auth.example.com", append(base, opts...)...)
	return flow, store, clock, issuer
}

// seedCode saves a pending request with a fixed user code
func seedCode(t *testing.T, store Store, clock *testClock, deviceCode, userCode string) *DeviceCode {
	t.Helper()

	now := clock.Now()
	code := &DeviceCode{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: "https://auth.example.com/device",
		ExpiresIn:       900,
		Interval:        5,
		ExpiresAt:       now.Add(15 * time.Minute),
		ClientID:        "cli",
		Scope:           "profile",
		LastPoll:        now,
		Status:          StatusPending,
	}
	if err := store.SaveDeviceCode(context.Background(), code, now); err != nil {
		t.Fatalf("seeding device code: %v", err)
	}
	return code
}
