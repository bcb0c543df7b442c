// Package main is the entry point for the dashboard service: a read-only
// HTTP API over experiments, runs, metrics, and schedules, plus the
// Prometheus scrape endpoint.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fullsend/fullsend/internal/api"
	"github.com/fullsend/fullsend/internal/bootstrap"
	"github.com/fullsend/fullsend/internal/config"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	st := bootstrap.OpenStore(cfg, logger)
	defer st.Close()

	handlers := api.NewHandlers(st, logger)
	server := api.NewServer(handlers, cfg.RateLimitRPS, cfg.RateLimitBurst)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
