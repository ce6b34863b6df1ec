package deviceflow

import (
	"log/slog"
	"time"
)

// Option configures the device flow implementation
type Option func(*Flow)

// WithExpiryDuration sets the code expiry duration
func WithExpiryDuration(d time.Duration) Option {
	return func(f *Flow) {
		f.expiryDuration = d
	}
}

// WithPollInterval sets the minimum polling interval
// per RFC 8628 section 3.5, clients must wait between polling attempts
func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) {
		f.pollInterval = d
	}
}

// WithRateLimit sets rate limiting parameters for user code verification
// per RFC 8628 section 5.2
func WithRateLimit(window time.Duration, maxAttempts int) Option {
	return func(f *Flow) {
		f.rateLimitWindow = window
		f.maxAttempts = maxAttempts
	}
}

// WithAllowedClients restricts device code requests to the given client IDs.
// An empty list allows every client.
func WithAllowedClients(clientIDs ...string) Option {
	return func(f *Flow) {
		f.allowedClients = make(map[string]bool, len(clientIDs))
		for _, id := range clientIDs {
			if id != "" {
				f.allowedClients[id] = true
			}
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// WithLogger sets the logger used for flow events
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}
