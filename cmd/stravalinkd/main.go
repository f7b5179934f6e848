// Command stravalinkd runs the Strava credential core as an HTTP daemon.
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

	"github.com/caarlos0/env/v11"

	"github.com/kinnect/stravalink"
	"github.com/kinnect/stravalink/instrumentation"
	"github.com/kinnect/stravalink/providers/strava"
	"github.com/kinnect/stravalink/security"
	"github.com/kinnect/stravalink/storage/memory"
)

// version is set at build time via -ldflags.
var version = "dev"

// envConfig enumerates every environment variable the daemon recognizes.
type envConfig struct {
	Addr           string        `env:"STRAVALINK_ADDR" envDefault:":4000"`
	ClientID       string        `env:"STRAVA_CLIENT_ID"`
	ClientSecret   string        `env:"STRAVA_CLIENT_SECRET"`
	RedirectURL    string        `env:"STRAVA_REDIRECT_URI"`
	Scope          string        `env:"STRAVA_SCOPE"`
	EncryptionKey  string        `env:"TOKEN_ENCRYPTION_KEY"`
	FrontendOrigin string        `env:"FRONTEND_ORIGIN" envDefault:"http://localhost:3000"`
	StateTTL       time.Duration `env:"STATE_TTL" envDefault:"10m"`
	RequestTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	RateLimitRate  int           `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	AuditLogging   bool          `env:"AUDIT_LOGGING" envDefault:"true"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("stravalinkd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := newLogger(ec.LogLevel)
	slog.SetDefault(logger)

	// A missing or malformed key is a startup error. Falling back to a
	// generated key would silently orphan every stored token on restart.
	key, err := security.KeyFromHex(ec.EncryptionKey)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}

	cfg := &stravalink.Config{
		StravaAuth: stravalink.StravaAuthConfig{
			ClientID:     ec.ClientID,
			ClientSecret: ec.ClientSecret,
			RedirectURL:  ec.RedirectURL,
			Scope:        ec.Scope,
		},
		FrontendOrigin: ec.FrontendOrigin,
		EncryptionKey:  key,
		StateTTL:       ec.StateTTL,
		RequestTimeout: ec.RequestTimeout,
		RateLimit: stravalink.RateLimitConfig{
			Rate:  ec.RateLimitRate,
			Burst: ec.RateLimitBurst,
		},
		Logger:             logger,
		EnableAuditLogging: ec.AuditLogging,
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "stravalinkd",
		ServiceVersion: version,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}

	store := memory.NewWithConfig(ec.StateTTL, time.Minute)
	defer store.Stop()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)

	provider, err := strava.NewProvider(&strava.Config{
		ClientID:       ec.ClientID,
		ClientSecret:   ec.ClientSecret,
		RedirectURL:    ec.RedirectURL,
		Scope:          ec.Scope,
		RequestTimeout: ec.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("init strava provider: %w", err)
	}

	api := strava.NewClient(&strava.ClientConfig{
		RequestTimeout: ec.RequestTimeout,
	})

	service, err := stravalink.NewService(cfg, provider, store, store)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	service.SetInstrumentation(inst)

	handler := stravalink.NewHandler(service, api)
	defer handler.Stop()

	server := &http.Server{
		Addr:         ec.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stravalinkd listening", "addr", ec.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Warn("instrumentation shutdown failed", "error", err)
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
