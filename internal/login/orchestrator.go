// Package login runs the CLI side of the device flow: it requests a code,
// shows it to the user, polls for a token and stores the result.
package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"golang.org/x/oauth2"

	"github.com/wrale/devicelogin/internal/oauth"
	"github.com/wrale/devicelogin/internal/poller"
	"github.com/wrale/devicelogin/internal/tokenstore"
)

// CodeRequester starts a device authorization
type CodeRequester interface {
	RequestCode(ctx context.Context, clientID, scope string) (*oauth.DeviceAuthorization, error)
}

// Poller waits for the user to approve a device authorization
type Poller interface {
	Poll(ctx context.Context, auth *oauth.DeviceAuthorization) (*oauth.Token, error)
}

// UserInfoFetcher resolves the identity behind an access token
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, token *oauth2.Token) (*oauth.UserInfo, error)
}

// TokenStore persists the token between invocations
type TokenStore interface {
	Save(token *oauth.Token) (*tokenstore.Record, error)
	Load() (*tokenstore.Record, error)
	Clear() (bool, error)
	IsExpired() bool
}

// BrowserOpener opens url in the user's browser
type BrowserOpener func(url string) error

// Orchestrator wires the login steps together
type Orchestrator struct {
	requester CodeRequester
	poller    Poller
	userInfo  UserInfoFetcher
	store     TokenStore
	prompt    Prompter
	browser   BrowserOpener
	out       io.Writer
	spinner   bool
	force     bool
	clientID  string
	scope     string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBrowser sets the function used to open the verification URL; nil disables it
func WithBrowser(open BrowserOpener) Option {
	return func(o *Orchestrator) { o.browser = open }
}

// WithPrompter replaces the confirmation prompter
func WithPrompter(p Prompter) Option {
	return func(o *Orchestrator) { o.prompt = p }
}

// WithOutput sets where user facing messages are written
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// WithSpinner enables the progress spinner while waiting
func WithSpinner(enabled bool) Option {
	return func(o *Orchestrator) { o.spinner = enabled }
}

// WithForce skips the confirmation before replacing a live token
func WithForce(force bool) Option {
	return func(o *Orchestrator) { o.force = force }
}

// WithScope sets the scope requested with the device code
func WithScope(scope string) Option {
	return func(o *Orchestrator) { o.scope = scope }
}

// WithUserInfo enables WhoAmI
func WithUserInfo(f UserInfoFetcher) Option {
	return func(o *Orchestrator) { o.userInfo = f }
}

// WithLogger sets the debug logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator for clientID
func New(clientID string, requester CodeRequester, p Poller, store TokenStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		requester: requester,
		poller:    p,
		store:     store,
		prompt:    AutoPrompter{},
		out:       io.Discard,
		clientID:  clientID,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "login")
	return o
}

var (
	bold    = color.New(color.Bold)
	cyan    = color.New(color.FgCyan, color.Bold)
	yellow  = color.New(color.FgYellow)
	code    = color.New(color.FgHiYellow, color.Bold)
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	faint   = color.New(color.Faint)
	urlText = color.New(color.FgBlue, color.Underline)
)

// Login runs the device flow. Declining to replace a live token is not an error.
func (o *Orchestrator) Login(ctx context.Context) error {
	if !o.force && !o.store.IsExpired() {
		again, err := o.prompt.Confirm(ctx, "You are already logged in. Do you want to log in again?", false)
		if err != nil {
			return o.answerFailure(ctx, err)
		}
		if !again {
			yellow.Fprintln(o.out, "Login cancelled. You are still logged in.")
			return nil
		}
	}

	stop := o.startSpinner("Requesting device authorization...")
	auth, err := o.requester.RequestCode(ctx, o.clientID, o.scope)
	stop()
	if err != nil {
		return o.fail("requesting device code", err)
	}
	o.logger.Debug("device code issued", "user_code", auth.UserCode, "expires_in", auth.ExpiresIn, "interval", auth.Interval)

	o.showCode(auth)
	if err := o.maybeOpenBrowser(ctx, auth); err != nil {
		return o.answerFailure(ctx, err)
	}

	token, err := o.wait(ctx, auth)
	if err != nil {
		return o.pollFailure(ctx, err)
	}

	rec, err := o.store.Save(token)
	if err != nil {
		return o.fail("saving token", err)
	}

	green.Fprintln(o.out, "Login successful!")
	if rec.ExpiresAt != nil {
		faint.Fprintf(o.out, "Token valid until %s\n", rec.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func (o *Orchestrator) wait(ctx context.Context, auth *oauth.DeviceAuthorization) (*oauth.Token, error) {
	stop := o.startSpinner("Waiting for authorization...")
	defer stop()
	return o.poller.Poll(ctx, auth)
}

func (o *Orchestrator) showCode(auth *oauth.DeviceAuthorization) {
	fmt.Fprintln(o.out)
	cyan.Fprintln(o.out, "Device Authorization Required")
	fmt.Fprintf(o.out, "\n1. Visit: %s\n", urlText.Sprint(auth.VerificationURI))
	fmt.Fprintf(o.out, "2. Enter the code: %s\n", code.Sprint(auth.UserCode))
	if auth.VerificationURIComplete != "" {
		faint.Fprintf(o.out, "   Or open %s to skip typing the code.\n", auth.VerificationURIComplete)
	}
	if auth.ExpiresIn > 0 {
		fmt.Fprintf(o.out, "\nThis code will expire in %s minutes.\n\n", red.Sprint(minutes(auth.ExpiresIn)))
	}
}

func minutes(seconds int) string {
	if seconds%60 == 0 {
		return fmt.Sprintf("%d", seconds/60)
	}
	return fmt.Sprintf("%.1f", float64(seconds)/60)
}

// maybeOpenBrowser fails only when the question could not be answered
func (o *Orchestrator) maybeOpenBrowser(ctx context.Context, auth *oauth.DeviceAuthorization) error {
	if o.browser == nil {
		return nil
	}
	open, err := o.prompt.Confirm(ctx, "Open the verification page in your browser?", true)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}

	target := auth.VerificationURIComplete
	if target == "" {
		target = auth.VerificationURI
	}
	if err := o.browser(target); err != nil {
		o.logger.Debug("opening browser failed", "error", err)
		faint.Fprintln(o.out, "Could not open a browser. Visit the URL above manually.")
	}
	return nil
}

func (o *Orchestrator) pollFailure(ctx context.Context, err error) error {
	switch poller.StateOf(err) {
	case poller.AccessDenied:
		red.Fprintln(o.out, "Login was denied.")
	case poller.Expired:
		red.Fprintln(o.out, "The code expired before it was approved. Run login again.")
	default:
		if ctx.Err() != nil {
			yellow.Fprintln(o.out, "Login cancelled.")
		} else {
			red.Fprintf(o.out, "Login failed: %v\n", err)
		}
	}
	return &ExitError{Code: 1, Err: err}
}

func (o *Orchestrator) answerFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		yellow.Fprintln(o.out, "Login cancelled.")
		return &ExitError{Code: 1, Err: err}
	}
	return o.fail("reading answer", err)
}

func (o *Orchestrator) fail(op string, err error) error {
	red.Fprintf(o.out, "Error %s: %v\n", op, err)
	return &ExitError{Code: 1, Err: fmt.Errorf("%s: %w", op, err)}
}

// Logout removes the stored token after confirmation
func (o *Orchestrator) Logout(ctx context.Context) error {
	rec, err := o.store.Load()
	if err != nil {
		o.logger.Debug("token file unreadable", "error", err)
	}
	if rec == nil && err == nil {
		yellow.Fprintln(o.out, "You are not logged in.")
		return nil
	}

	sure, err := o.prompt.Confirm(ctx, "Are you sure you want to log out?", false)
	if err != nil {
		return o.fail("reading answer", err)
	}
	if !sure {
		yellow.Fprintln(o.out, "Logout cancelled. You are still logged in.")
		return nil
	}

	cleared, err := o.store.Clear()
	if err != nil {
		return o.fail("clearing token", err)
	}
	if !cleared {
		yellow.Fprintln(o.out, "Warning: no stored token was found to clear.")
		return nil
	}
	green.Fprintln(o.out, "Logout successful!")
	return nil
}

// Status reports whether a usable token is stored
func (o *Orchestrator) Status(ctx context.Context) error {
	rec, err := o.store.Load()
	if err != nil {
		return o.fail("reading token", err)
	}
	if rec == nil {
		yellow.Fprintln(o.out, "Not logged in.")
		return &ExitError{Code: 1, Err: ErrNotLoggedIn}
	}

	if rec.ExpiredAt(o.now()) {
		if rec.ExpiresAt == nil {
			yellow.Fprintln(o.out, "Logged in, but the token has no expiry and is treated as expired.")
		} else {
			yellow.Fprintf(o.out, "Token expired at %s. Run login again.\n", rec.ExpiresAt.Local().Format(time.RFC1123))
		}
		return &ExitError{Code: 1, Err: ErrNotLoggedIn}
	}

	green.Fprintln(o.out, "Logged in.")
	fmt.Fprintf(o.out, "Obtained: %s\n", rec.ObtainedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(o.out, "Expires:  %s (in %s)\n", rec.ExpiresAt.Local().Format(time.RFC1123), rec.ExpiresAt.Sub(o.now()).Round(time.Second))
	if rec.Scope != "" {
		fmt.Fprintf(o.out, "Scope:    %s\n", rec.Scope)
	}
	return nil
}

// WhoAmI prints the identity behind the stored token
func (o *Orchestrator) WhoAmI(ctx context.Context) error {
	if o.userInfo == nil {
		return o.fail("looking up user", errors.New("userinfo endpoint not configured"))
	}

	rec, err := o.store.Load()
	if err != nil {
		return o.fail("reading token", err)
	}
	if rec == nil || rec.ExpiredAt(o.now()) {
		red.Fprintln(o.out, "Not authenticated. Please log in again.")
		return &ExitError{Code: 1, Err: ErrNotLoggedIn}
	}

	tok := &oauth2.Token{AccessToken: rec.AccessToken, TokenType: rec.TokenType}
	info, err := o.userInfo.UserInfo(ctx, tok)
	if errors.Is(err, oauth.ErrInvalidToken) {
		red.Fprintln(o.out, "The server rejected the stored token. Please log in again.")
		return &ExitError{Code: 1, Err: err}
	}
	if err != nil {
		return o.fail("looking up user", err)
	}

	fmt.Fprintf(o.out, "User: %s\n", bold.Sprint(info.Subject))
	if info.ClientID != "" {
		faint.Fprintf(o.out, "Client: %s\n", info.ClientID)
	}
	return nil
}
