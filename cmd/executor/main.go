// Package main is the entry point for the executor service. It runs
// experiments against the tool registry under one of three scheduling
// policies and publishes every outcome to the bus.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fullsend/fullsend/internal/bootstrap"
	"github.com/fullsend/fullsend/internal/config"
	"github.com/fullsend/fullsend/internal/executor"
	"github.com/fullsend/fullsend/internal/tools"
	"github.com/fullsend/fullsend/internal/tools/builtin"
	"github.com/fullsend/fullsend/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	logger.Info("starting executor",
		slog.String("scheduler_mode", cfg.SchedulerMode),
		slog.String("store", cfg.StoreType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:  "fullsend-executor",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	st := bootstrap.OpenStore(cfg, logger)
	defer st.Close()

	b := bootstrap.OpenBus(cfg, logger)
	defer b.Close()

	registry := tools.NewRegistry(logger)
	if err := builtin.RegisterAll(registry, logger); err != nil {
		logger.Error("failed to register built-in tools", "error", err)
		os.Exit(1)
	}
	for _, meta := range builtin.Metas() {
		if err := st.PutTool(ctx, meta); err != nil {
			logger.Warn("failed to store tool metadata", slog.String("tool", meta.Name), "error", err)
		}
	}
	logger.Info("tool registry ready", slog.Any("tools", registry.Names()))

	exec := executor.New(st, b, registry, &executor.Config{
		Timeout:      cfg.ToolTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	sched := executor.NewScheduler(exec, st, b, &executor.SchedulerConfig{
		Mode:               executor.Mode(cfg.SchedulerMode),
		Interval:           cfg.ScanInterval,
		ContinuousInterval: cfg.ContinuousInterval,
		Batch:              cfg.ContinuousBatch,
	}, logger)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler exited", "error", err)
		os.Exit(1)
	}

	logger.Info("executor stopped")
}
