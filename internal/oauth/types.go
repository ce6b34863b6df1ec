// Package oauth is the client side of the device authorization grant: it
// requests device codes, exchanges them for tokens and calls the userinfo
// endpoint with the result.
package oauth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Common errors returned by the client
var (
	// ErrNetwork wraps transport failures: DNS, refused connections, timeouts
	ErrNetwork = errors.New("network error")

	// ErrInvalidToken indicates the server rejected a bearer token
	ErrInvalidToken = errors.New("invalid token")
)

// Device token error codes per RFC 8628 section 3.5
const (
	ErrorAuthorizationPending = "authorization_pending"
	ErrorSlowDown             = "slow_down"
	ErrorAccessDenied         = "access_denied"
	ErrorExpiredToken         = "expired_token"
)

// GrantTypeDeviceCode is the grant_type sent when polling for a token
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// DefaultInterval applies when the server omits interval or sends a non-positive value
const DefaultInterval = 5 * time.Second

// DeviceAuthorization is the server's answer to a device code request
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int // Seconds, 0 when the server sent none
	ExpiresAt               time.Time
	Interval                time.Duration
	ClientID                string
	Scope                   string
}

// Token is a successful token response
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// OAuth2 converts t for use with an oauth2.TokenSource. obtained is the time
// the token was received.
func (t *Token) OAuth2(obtained time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = obtained.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok
}

// ServerError is a non-2xx answer to a device code or userinfo request
type ServerError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ServerError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("server error %d: %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("server error %d", e.StatusCode)
	}
}

// TokenError is an RFC 6749 error answer from the token endpoint
type TokenError struct {
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// UserInfo identifies the user a token was issued to
type UserInfo struct {
	Subject  string `json:"sub"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}
