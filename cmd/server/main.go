package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, found, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	cfg.ApplyEnv()

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if envErr != nil {
		logging.Debug().Msg("no .env file found, using process environment")
	}
	if !found {
		logging.Warn().Str("path", cfgPath).Msg("config file not found, using defaults")
	}

	ctx := context.Background()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start engine")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Sync runs can take minutes; give them the same budget to drain.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.SyncTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := srv.Close(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("failed to close store")
	}
}
