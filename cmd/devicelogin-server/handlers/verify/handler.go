// Package verify serves the approval page per RFC 8628 section 3.3
package verify

import (
	"context"
	"log/slog"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/approve"
	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/templates"
)

// Flow looks up and resolves pending requests
type Flow interface {
	approve.Resolver
	VerifyUserCode(ctx context.Context, userCode string) (*deviceflow.DeviceCode, error)
}

// CSRF issues and checks form tokens bound to a user
type CSRF interface {
	GenerateToken(ctx context.Context, subject string) (string, error)
	ValidateToken(ctx context.Context, token, subject string) error
}

// Handler processes user verification flow per RFC 8628 section 3.3.
// Both routes must sit behind session.RequireSession.
type Handler struct {
	flow      Flow
	templates *templates.Templates
	csrf      CSRF
	logger    *slog.Logger
}

// Config contains handler configuration
type Config struct {
	Flow      Flow
	Templates *templates.Templates
	CSRF      CSRF
	Logger    *slog.Logger
}

// New creates a new verification flow handler
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flow:      cfg.Flow,
		templates: cfg.Templates,
		csrf:      cfg.CSRF,
		logger:    logger,
	}
}
