// Command devicelogin-server is an OAuth 2.0 device authorization server
// (RFC 8628) with a session protected approval page.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/devicelogin/internal/csrf"
	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/session"
)

// Version is set by the build process
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	issuer := session.NewIssuer([]byte(cfg.TokenSecret), cfg.Issuer, cfg.TokenTTL)

	opts := []deviceflow.Option{
		deviceflow.WithExpiryDuration(cfg.CodeExpiry),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithRateLimit(time.Minute, cfg.MaxVerifyAttempts),
		deviceflow.WithLogger(logger),
	}
	if len(cfg.AllowedClients) > 0 {
		opts = append(opts, deviceflow.WithAllowedClients(cfg.AllowedClients...))
	}
	flow := deviceflow.NewFlow(stores.device, issuer, cfg.BaseURL, opts...)

	csrfManager := csrf.NewManager(stores.csrf, []byte(cfg.CSRFSecret), cfg.CSRFTokenExpiry)

	srv, err := newServer(cfg, flow, issuer, csrfManager, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	go flow.RunSweeper(ctx, cfg.SweepInterval)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "store", cfg.StoreDriver, "version", Version)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("starting server: %w", err)

	case <-ctx.Done():
		logger.Info("starting shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down server", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", "error", err)
			}
		}
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

type stores struct {
	device deviceflow.Store
	csrf   csrf.Store
	close  func()
}

// openStores builds the device code and CSRF stores for cfg.StoreDriver.
// SQLite keeps CSRF tokens in memory since they only live for one page view.
func openStores(ctx context.Context, cfg Config, logger *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "redis":
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		client := redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}

		return &stores{
			device: deviceflow.NewRedisStore(client),
			csrf:   csrf.NewRedisStore(client),
			close: func() {
				if err := client.Close(); err != nil {
					logger.Error("closing Redis connection", "error", err)
				}
			},
		}, nil

	case "sqlite":
		db, err := deviceflow.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening SQLite store: %w", err)
		}
		return &stores{
			device: db,
			csrf:   csrf.NewMemoryStore(),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error("closing SQLite store", "error", err)
				}
			},
		}, nil

	default:
		logger.Warn("using in-memory stores; state is lost on restart")
		return &stores{
			device: deviceflow.NewMemoryStore(),
			csrf:   csrf.NewMemoryStore(),
			close:  func() {},
		}, nil
	}
}
