package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/compatbridge/messages-gateway/internal/config"
	"github.com/compatbridge/messages-gateway/internal/frontdoor/anthropic"
	"github.com/compatbridge/messages-gateway/internal/server"
	"github.com/compatbridge/messages-gateway/internal/telemetry"
	"github.com/compatbridge/messages-gateway/internal/usage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("messages-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store *usage.Store
	if cfg.Usage.Path != "" {
		store, err = usage.Open(cfg.Usage.Path)
		if err != nil {
			log.Fatalf("Failed to open usage store: %v", err)
		}
		defer store.Close()
		logger.Info("usage accounting enabled", slog.String("path", cfg.Usage.Path))
	}

	handler := anthropic.NewHandler(cfg.Provider, store)

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Post("/v1/messages", handler.HandleMessages)
	srv.Router.Post("/v1/messages/count_tokens", handler.HandleCountTokens)
	srv.Router.Get("/health", handler.HandleHealth)
	srv.Router.Get("/v1/usage", handler.HandleRecentUsage)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("provider", cfg.Provider.Name),
		slog.String("default_model", cfg.Provider.DefaultModel),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("gateway stopped")
}
