package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spacefolk/spacefolk/internal/app"
	"github.com/spacefolk/spacefolk/internal/auth"
	"github.com/spacefolk/spacefolk/internal/observability"
	"github.com/spacefolk/spacefolk/internal/platform/cache"
	"github.com/spacefolk/spacefolk/internal/platform/db"
	"github.com/spacefolk/spacefolk/internal/rbac"
	"github.com/spacefolk/spacefolk/internal/roles"
	"github.com/spacefolk/spacefolk/internal/shared"
	"github.com/spacefolk/spacefolk/internal/spaces"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokenStore(redisClient, cfg.TokenTTL)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, tokens)
	authHandler := auth.NewHandler(logger, authService)

	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	spaceRepo := spaces.NewRepository(pool)
	roleRepo := roles.NewRepository(pool)
	resolverCache := rbac.NewCache(redisClient, cfg.ResolverCacheTTL)
	resolver := rbac.NewResolver(roleRepo, spaceRepo, resolverCache, metrics)

	roleService := roles.NewService(roleRepo, resolver, auditLogger, resolverCache, logger)
	roleHandler := roles.NewHandler(logger, roleService, resolver)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthService:  authService,
		AuthHandler:  authHandler,
		RolesHandler: roleHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
