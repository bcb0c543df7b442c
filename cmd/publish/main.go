// Package main implements the publish CLI: it loads an experiment
// definition from a YAML file, stores it with its schedule, and announces
// it on the coordinator channel. With -trigger it also fires an immediate
// run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fullsend/fullsend/internal/bootstrap"
	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/config"
	"github.com/fullsend/fullsend/pkg/types"
)

func main() {
	trigger := flag.Bool("trigger", false, "publish a run trigger after storing the experiment")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <experiment.yaml>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(cfg, logger, flag.Arg(0), *trigger); err != nil {
		logger.Error("publish failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, path string, trigger bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	exp, err := parseExperimentFile(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := bootstrap.OpenStore(cfg, logger)
	defer st.Close()

	b := bootstrap.OpenBus(cfg, logger)
	defer b.Close()

	if err := st.PutExperiment(ctx, exp); err != nil {
		return fmt.Errorf("storing experiment %s: %w", exp.ID, err)
	}
	logger.Info("stored experiment",
		slog.String("experiment_id", exp.ID),
		slog.String("state", string(exp.State)),
	)

	if sched := scheduleFor(exp); sched != nil {
		if err := st.PutSchedule(ctx, sched); err != nil {
			return fmt.Errorf("storing schedule for %s: %w", exp.ID, err)
		}
		logger.Info("stored schedule",
			slog.String("cron", sched.Cron),
			slog.String("timezone", sched.Timezone),
		)
	} else {
		logger.Info("no schedule declared, manual trigger only")
	}

	ready := types.NewEnvelope(types.MsgTypeExperimentReady, "publish", map[string]any{
		"experiment_id": exp.ID,
		"message":       fmt.Sprintf("Experiment %s is ready.", exp.ID),
	})
	if err := b.Publish(ctx, bus.ChannelToCoordinator, ready); err != nil {
		return fmt.Errorf("announcing experiment: %w", err)
	}
	logger.Info("announced experiment_ready", slog.String("experiment_id", exp.ID))

	if trigger {
		env := types.NewEnvelope(types.MsgTypeRunTrigger, "publish", map[string]any{
			"experiment_id": exp.ID,
		})
		if err := b.Publish(ctx, bus.ChannelRunTriggers, env); err != nil {
			return fmt.Errorf("publishing run trigger: %w", err)
		}
		logger.Info("published run trigger", slog.String("experiment_id", exp.ID))
	}

	return nil
}
