// Package main is the entry point for the monitor service. It folds metric
// events into per-experiment aggregates, sweeps threshold criteria, and
// raises deduplicated alerts on the coordinator channel.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fullsend/fullsend/internal/bootstrap"
	"github.com/fullsend/fullsend/internal/config"
	"github.com/fullsend/fullsend/internal/monitor"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	logger.Info("starting monitor",
		slog.Duration("check_interval", cfg.CheckInterval),
		slog.Duration("alert_cooldown", cfg.AlertCooldown),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := bootstrap.OpenStore(cfg, logger)
	defer st.Close()

	b := bootstrap.OpenBus(cfg, logger)
	defer b.Close()

	mon := monitor.New(st, b, &monitor.Config{
		AlertCooldown:   cfg.AlertCooldown,
		CheckInterval:   cfg.CheckInterval,
		SummaryInterval: cfg.SummaryInterval,
	}, logger, time.Now)

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitor exited", "error", err)
		os.Exit(1)
	}

	logger.Info("monitor stopped")
}
