package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaiwen/pointlink/internal/config"
	"github.com/kaiwen/pointlink/internal/devserver"
	"github.com/kaiwen/pointlink/internal/ledger"
	"github.com/kaiwen/pointlink/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "pointsd")

	l := ledger.New(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	if err := l.Seed(); err != nil {
		logger.Error("failed to seed ledger", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger seeded", "account", "test@example.com")

	apiHandlers := devserver.NewAPIHandlers(logger, l)
	router := devserver.NewRouter(logger, devserver.RouterDependencies{
		API:              apiHandlers,
		AllowedOrigins:   parseAllowedOrigins(cfg.Server.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := devserver.New(logger, cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
