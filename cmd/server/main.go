// Package main is the entrypoint for the KeyFort API server.
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

	"github.com/arnevik/keyfort/internal/api"
	"github.com/arnevik/keyfort/internal/api/handler"
	mw "github.com/arnevik/keyfort/internal/api/middleware"
	"github.com/arnevik/keyfort/internal/api/response"
	"github.com/arnevik/keyfort/internal/auth"
	"github.com/arnevik/keyfort/internal/cache"
	"github.com/arnevik/keyfort/internal/config"
	"github.com/arnevik/keyfort/internal/crypto"
	"github.com/arnevik/keyfort/internal/delegate"
	"github.com/arnevik/keyfort/internal/keys"
	"github.com/arnevik/keyfort/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "delegate_enabled", cfg.Delegate.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Build the crypto vault — fail fast on a bad master key
	vault, err := crypto.NewVault(cfg.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}

	// 3. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 4. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 5. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)

	var delegateClient delegate.Client
	if cfg.Delegate.Enabled() {
		delegateClient = delegate.NewHTTPClient(cfg.Delegate.BaseURL, cfg.Delegate.ServiceRoleKey, cfg.Delegate.Timeout)
		slog.Info("identity delegate configured", "base_url", cfg.Delegate.BaseURL)
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.ResetTokenTTL)
	authSvc := auth.NewService(pgStore, delegateClient, tokens, cfg.Auth.BcryptCost)
	keySvc := keys.NewService(pgStore, vault)

	// 7. Build router with dependencies
	authMw := mw.NewAuth(authSvc)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      authMw,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		SignupHandler:         handler.NewSignupHandler(authSvc),
		SigninHandler:         handler.NewSigninHandler(authSvc),
		LogoutHandler:         handler.NewLogoutHandler(),
		MeHandler:             handler.NewMeHandler(),
		ForgotPasswordHandler: handler.NewForgotPasswordHandler(authSvc),
		ResetPasswordHandler:  handler.NewResetPasswordHandler(authSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(keySvc),
		ListKeysHandler:  handler.NewListKeysHandler(keySvc),
		UpdateKeyHandler: handler.NewUpdateKeyHandler(keySvc),
		RevealKeyHandler: handler.NewRevealKeyHandler(keySvc),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(keySvc),

		ListInvoicesHandler: handler.NewListInvoicesHandler(),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
