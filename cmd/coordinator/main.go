// Package main is the entry point for the coordinator service. It runs the
// dispatch router that moves messages between the pipeline channels, using
// the monitor's alert gate to decide which metric events surface
// immediately.
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
	"github.com/fullsend/fullsend/internal/router"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	logger.Info("starting coordinator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := bootstrap.OpenStore(cfg, logger)
	defer st.Close()

	b := bootstrap.OpenBus(cfg, logger)
	defer b.Close()

	// The coordinator shares the monitor's gating rules so that a metric
	// event routed here and one swept by the monitor agree on severity.
	mon := monitor.New(st, b, &monitor.Config{
		AlertCooldown:   cfg.AlertCooldown,
		CheckInterval:   cfg.CheckInterval,
		SummaryInterval: cfg.SummaryInterval,
	}, logger, time.Now)

	r := router.New(b, st, mon.AlertGate, logger)

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("router exited", "error", err)
		os.Exit(1)
	}

	logger.Info("coordinator stopped")
}
