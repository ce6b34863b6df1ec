package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/approve"
	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/device"
	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/health"
	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/token"
	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/userinfo"
	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/verify"
	"github.com/wrale/devicelogin/internal/csrf"
	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/session"
	"github.com/wrale/devicelogin/internal/templates"
)

// devSessionTTL is the lifetime of cookies minted by the dev login route
const devSessionTTL = 12 * time.Hour

type server struct {
	cfg    Config
	router *chi.Mux
	flow   *deviceflow.Flow
	issuer *session.Issuer
	csrf   *csrf.Manager
	logger *slog.Logger
}

func newServer(cfg Config, flow *deviceflow.Flow, issuer *session.Issuer, csrfManager *csrf.Manager, logger *slog.Logger) (*server, error) {
	tmpls, err := templates.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	srv := &server{
		cfg:    cfg,
		router: chi.NewRouter(),
		flow:   flow,
		issuer: issuer,
		csrf:   csrfManager,
		logger: logger.With("component", "http"),
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(30 * time.Second))

	srv.routes(tmpls)

	return srv, nil
}

func (s *server) routes(tmpls *templates.Templates) {
	s.router.Method(http.MethodGet, "/health",
		health.New(s.flow).WithVersion(Version).WithCheck("csrf", s.csrf))

	// RFC 8628 client endpoints
	s.router.Method(http.MethodPost, "/device/code", device.New(s.flow, s.logger))
	s.router.Method(http.MethodPost, "/device/token", token.New(s.flow, s.logger))

	// Approval surface for signed in users
	verifyHandler := verify.New(verify.Config{
		Flow:      s.flow,
		Templates: tmpls,
		CSRF:      s.csrf,
		Logger:    s.logger,
	})
	s.router.Group(func(r chi.Router) {
		r.Use(session.RequireSession(s.issuer))
		r.Get("/device", verifyHandler.HandleForm)
		r.Post("/device/verify", verifyHandler.HandleSubmit)
		r.Method(http.MethodPost, "/device/approve", approve.NewApprove(s.flow, s.logger))
		r.Method(http.MethodPost, "/device/deny", approve.NewDeny(s.flow, s.logger))
	})

	s.router.Group(func(r chi.Router) {
		r.Use(session.RequireAccessToken(s.issuer))
		r.Method(http.MethodGet, "/userinfo", userinfo.New())
	})

	if s.cfg.DevLogin {
		s.logger.Warn("dev login enabled; anyone can sign in as any user")
		s.router.Get("/dev/login", s.handleDevLogin)
	}
}

// handleDevLogin signs the caller in as ?user= and redirects to ?next=.
// Only mounted with DEV_LOGIN=true.
func (s *server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return
	}

	tok, err := s.issuer.SessionToken(user, devSessionTTL)
	if err != nil {
		s.logger.Error("minting session token", "error", err)
		http.Error(w, "unable to sign in", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(devSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.cfg.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, localRedirect(r.URL.Query().Get("next")), http.StatusFound)
}

// localRedirect returns next when it is a path on this host and /device
// otherwise. Browsers treat a backslash like a slash, so "/\host" is
// rejected along with "//host".
func localRedirect(next string) string {
	if len(next) == 0 || next[0] != '/' {
		return "/device"
	}
	if len(next) > 1 && (next[1] == '/' || next[1] == '\\') {
		return "/device"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || strings.ContainsAny(next, "\r\n\t") {
		return "/device"
	}
	return next
}
