package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"aprueba/api/internal/app"
	"aprueba/api/internal/config"
	"aprueba/api/internal/erp"
	"aprueba/api/internal/observability"
	"aprueba/api/internal/session"
	"aprueba/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "aprueba-api").Logger()

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		sessions = redisStore
	} else {
		logger.Info().Msg("using in-memory session storage")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	var audit *store.AuditStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		audit = store.NewAuditStore(db)
		if err := audit.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("audit schema setup failed")
		}
	} else {
		logger.Info().Msg("audit trail disabled (no DATABASE_URL)")
	}

	erpClient := erp.NewClient(cfg.ERPBaseURL, cfg.ERPTimeout, logger)
	metrics := observability.New()

	var service *app.Service
	if audit != nil {
		service = app.New(cfg, erpClient, sessions, audit, metrics, logger)
	} else {
		service = app.New(cfg, erpClient, sessions, nil, metrics, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
