// Package poller drives the device access token polling loop: sleep the
// current interval, exchange the device code, react to the server's answer.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrale/devicelogin/internal/oauth"
)

// SlowDownIncrement is added to the interval on every slow_down answer
const SlowDownIncrement = 5 * time.Second

// Terminal polling errors
var (
	ErrAccessDenied = errors.New("authorization denied by user")
	ErrExpiredToken = errors.New("device code expired")
	ErrAborted      = errors.New("polling aborted")
)

// State is the outcome of a polling run
type State int

const (
	Pending State = iota
	Authorized
	AccessDenied
	Expired
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Authorized:
		return "authorized"
	case AccessDenied:
		return "access_denied"
	case Expired:
		return "expired"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateOf maps an error returned by Poll to its terminal state
func StateOf(err error) State {
	switch {
	case err == nil:
		return Authorized
	case errors.Is(err, ErrAccessDenied):
		return AccessDenied
	case errors.Is(err, ErrExpiredToken):
		return Expired
	default:
		return Aborted
	}
}

// Exchanger performs one device access token request
type Exchanger interface {
	ExchangeDeviceCode(ctx context.Context, clientID, deviceCode string) (*oauth.Token, error)
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Engine polls a token endpoint until the request leaves the pending state
type Engine struct {
	exchanger  Exchanger
	sleep      Sleeper
	logger     *slog.Logger
	onAttempt  func(attempt int, interval time.Duration)
	onSlowDown func(interval time.Duration)
}

// Option configures an Engine
type Option func(*Engine)

// WithSleeper replaces the real-time sleep, for tests on simulated time
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
	}
}

// WithLogger sets the logger used for per-attempt debug output
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// OnAttempt registers fn to run before each exchange
func OnAttempt(fn func(attempt int, interval time.Duration)) Option {
	return func(e *Engine) {
		e.onAttempt = fn
	}
}

// OnSlowDown registers fn to run with the new interval after each slow_down
func OnSlowDown(fn func(interval time.Duration)) Option {
	return func(e *Engine) {
		e.onSlowDown = fn
	}
}

// New creates an Engine
func New(exchanger Exchanger, opts ...Option) *Engine {
	e := &Engine{
		exchanger: exchanger,
		sleep:     Sleep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "poller")
	return e
}

// Poll waits for the user to act on auth. It returns the token once the
// request is approved. Otherwise the error wraps ErrAccessDenied,
// ErrExpiredToken or ErrAborted; aborts also wrap the underlying cause.
// authorization_pending and slow_down never surface as errors.
func (e *Engine) Poll(ctx context.Context, auth *oauth.DeviceAuthorization) (*oauth.Token, error) {
	interval := auth.Interval
	if interval <= 0 {
		interval = oauth.DefaultInterval
	}

	for attempt := 1; ; attempt++ {
		if err := e.sleep(ctx, interval); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		if e.onAttempt != nil {
			e.onAttempt(attempt, interval)
		}
		e.logger.Debug("polling for token", "attempt", attempt, "interval", interval)

		token, err := e.exchanger.ExchangeDeviceCode(ctx, auth.ClientID, auth.DeviceCode)
		if err == nil {
			e.logger.Debug("device authorized", "attempts", attempt)
			return token, nil
		}

		var tokenErr *oauth.TokenError
		if !errors.As(err, &tokenErr) {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		switch tokenErr.Code {
		case oauth.ErrorAuthorizationPending:
			continue
		case oauth.ErrorSlowDown:
			interval += SlowDownIncrement
			e.logger.Debug("server asked to slow down", "interval", interval)
			if e.onSlowDown != nil {
				e.onSlowDown(interval)
			}
		case oauth.ErrorAccessDenied:
			return nil, ErrAccessDenied
		case oauth.ErrorExpiredToken:
			return nil, ErrExpiredToken
		default:
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}
	}
}
