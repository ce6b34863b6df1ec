package deviceflow

import "time"

// Status is the lifecycle state of a device authorization request.
// A request leaves StatusPending exactly once and never returns to it.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is possible from s
func (s Status) Terminal() bool {
	return s != StatusPending
}

// DeviceCode represents the device authorization details per RFC 8628 section 3.2
type DeviceCode struct {
	// Required fields per RFC 8628 section 3.2
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"` // Display form, e.g. BCDF-GHJK
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"` // Remaining time in seconds
	Interval        int    `json:"interval"`   // Poll interval in seconds

	// Optional verification_uri_complete field per RFC 8628 section 3.3.1
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// Internal tracking, persisted by stores but never sent to clients
	ExpiresAt  time.Time `json:"expires_at"`
	ClientID   string    `json:"client_id"`
	Scope      string    `json:"scope"`
	LastPoll   time.Time `json:"last_poll"`
	Status     Status    `json:"status"`
	UserID     string    `json:"user_id,omitempty"` // Bound on approval
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// StatusAt returns the effective status at now. A pending request past its
// expiry reads as expired even before a store sweep has removed it.
func (c *DeviceCode) StatusAt(now time.Time) Status {
	if c.Status == "" || c.Status == StatusPending {
		if !now.Before(c.ExpiresAt) {
			return StatusExpired
		}
		return StatusPending
	}
	return c.Status
}

// TokenResponse represents the OAuth2 token response per RFC 8628 section 3.5
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
