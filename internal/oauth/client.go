package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Server endpoint paths
	DeviceCodePath = "/device/code"
	TokenPath      = "/device/token"
	UserInfoPath   = "/userinfo"

	// HTTP request timeouts
	defaultTimeout = 10 * time.Second

	maxResponseSize = 1 << 20
)

// Client talks to a device authorization server
type Client struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient creates a client for the server at baseURL. A nil httpClient gets
// a client with a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("server URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		client:  httpClient,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

func (c *Client) config(clientID, scope string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   strings.Fields(scope),
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: c.baseURL + DeviceCodePath,
			TokenURL:      c.baseURL + TokenPath,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// RequestCode starts a device authorization for clientID. Transport failures
// wrap ErrNetwork; non-2xx answers are returned as *ServerError.
func (c *Client) RequestCode(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	resp, err := c.config(clientID, scope).DeviceAuth(ctx)
	if err != nil {
		return nil, c.classify(ctx, "requesting device code", err)
	}

	auth := &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               resp.Expiry,
		Interval:                time.Duration(resp.Interval) * time.Second,
		ClientID:                clientID,
		Scope:                   scope,
	}
	if auth.Interval <= 0 {
		auth.Interval = DefaultInterval
	}
	if !resp.Expiry.IsZero() {
		auth.ExpiresIn = int(resp.Expiry.Sub(c.now()).Round(time.Second).Seconds())
	}
	if auth.DeviceCode == "" || auth.UserCode == "" || auth.VerificationURI == "" {
		return nil, fmt.Errorf("requesting device code: incomplete response from server")
	}

	return auth, nil
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("%s: %w", op, serverError(status, retrieveErr.Body))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func serverError(status int, body []byte) *ServerError {
	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &errResp)
	return &ServerError{
		StatusCode:  status,
		Code:        errResp.Error,
		Description: errResp.ErrorDescription,
	}
}

// ExchangeDeviceCode makes a single device access token request. Pending,
// slow_down and terminal answers come back as *TokenError.
func (c *Client) ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (*Token, error) {
	data := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classify(ctx, "sending token request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w: %v", ErrNetwork, err)
	}

	// Some servers answer pending and slow_down with 200, so the body decides
	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return nil, &TokenError{Code: errResp.Error, Description: errResp.ErrorDescription}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("parsing token response: missing access_token")
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	return &token, nil
}

// UserInfo fetches the identity behind token
func (c *Client) UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+UserInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, "sending userinfo request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading userinfo response: %w: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, serverError(resp.StatusCode, body)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing userinfo response: %w", err)
	}
	return &info, nil
}
