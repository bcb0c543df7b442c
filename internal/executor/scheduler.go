package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/store"
	"github.com/fullsend/fullsend/pkg/types"
)

// Mode selects the scheduling policy.
type Mode string

const (
	// ModeTrigger blocks on run-trigger messages and executes on receipt.
	ModeTrigger Mode = "trigger"

	// ModeInterval scans schedules on a fixed cadence and executes each
	// whose cron expression matches the current minute.
	ModeInterval Mode = "interval"

	// ModeContinuous executes up to Batch ready experiments per short
	// tick, ignoring cron expressions. Demo and accelerated operation.
	ModeContinuous Mode = "continuous"
)

// SchedulerConfig holds scheduling knobs.
type SchedulerConfig struct {
	Mode Mode

	// Interval is the scan cadence for interval mode.
	Interval time.Duration

	// ContinuousInterval is the tick for continuous mode.
	ContinuousInterval time.Duration

	// Batch caps executions per continuous tick.
	Batch int
}

// DefaultSchedulerConfig returns the deployed defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Mode:               ModeTrigger,
		Interval:           60 * time.Second,
		ContinuousInterval: 10 * time.Second,
		Batch:              3,
	}
}

// Scheduler drives an Executor under one of three interchangeable
// policies. Executions run concurrently with the scheduling loop so a
// slow tool never blocks receipt of the next tick or trigger.
type Scheduler struct {
	exec   *Executor
	store  store.Store
	bus    bus.Bus
	cfg    *SchedulerConfig
	logger *slog.Logger
	parser cron.Parser

	wg sync.WaitGroup

	mu         sync.Mutex
	lastWindow map[string]time.Time
}

// NewScheduler creates a scheduler around an executor.
func NewScheduler(exec *Executor, st store.Store, b bus.Bus, cfg *SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		exec:       exec,
		store:      st,
		bus:        b,
		cfg:        cfg,
		logger:     logger,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastWindow: make(map[string]time.Time),
	}
}

// Run drives the configured scheduling mode until the context is
// cancelled, then waits for in-flight executions to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	switch s.cfg.Mode {
	case ModeTrigger:
		return s.runTriggerLoop(ctx)
	case ModeInterval:
		return s.runIntervalLoop(ctx)
	case ModeContinuous:
		return s.runContinuousLoop(ctx)
	default:
		return fmt.Errorf("unknown scheduler mode %q", s.cfg.Mode)
	}
}

// runTriggerLoop executes experiments as run-trigger messages arrive.
func (s *Scheduler) runTriggerLoop(ctx context.Context) error {
	msgs, cleanup, err := s.bus.Subscribe(ctx, bus.ChannelRunTriggers)
	if err != nil {
		return fmt.Errorf("subscribe run triggers: %w", err)
	}
	defer cleanup()

	s.logger.Info("scheduler listening for run triggers",
		slog.String("channel", bus.ChannelRunTriggers))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env types.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				s.logger.Warn("malformed run trigger dropped", slog.Any("error", err))
				continue
			}
			experimentID := env.String("experiment_id")
			if experimentID == "" {
				s.logger.Warn("run trigger missing experiment_id, dropped")
				continue
			}
			s.dispatch(ctx, experimentID)
		}
	}
}

// runIntervalLoop scans schedules once per interval.
func (s *Scheduler) runIntervalLoop(ctx context.Context) error {
	s.logger.Info("scheduler running in interval mode",
		slog.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tickInterval(ctx, now)
		}
	}
}

// tickInterval dispatches every experiment whose cron expression matches
// the minute containing now, at most once per matching minute.
func (s *Scheduler) tickInterval(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("list schedules failed", slog.Any("error", err))
		return
	}

	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		window, due := s.dueWindow(sched, now)
		if !due {
			continue
		}

		s.mu.Lock()
		if last, ran := s.lastWindow[sched.ExperimentID]; ran && last.Equal(window) {
			s.mu.Unlock()
			continue
		}
		s.lastWindow[sched.ExperimentID] = window
		s.mu.Unlock()

		s.logger.Info("schedule due",
			slog.String("experiment_id", sched.ExperimentID),
			slog.String("cron", sched.Cron))
		s.dispatch(ctx, sched.ExperimentID)
	}
}

// dueWindow reports whether the schedule's cron expression matches the
// minute containing now, and returns that minute. A malformed expression
// or timezone is logged and never matches.
func (s *Scheduler) dueWindow(sched *types.Schedule, now time.Time) (time.Time, bool) {
	spec, err := s.parser.Parse(sched.Cron)
	if err != nil {
		s.logger.Warn("malformed cron expression",
			slog.String("experiment_id", sched.ExperimentID),
			slog.String("cron", sched.Cron),
			slog.Any("error", err))
		return time.Time{}, false
	}

	local := now
	if sched.Timezone != "" {
		loc, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			s.logger.Warn("unknown schedule timezone",
				slog.String("experiment_id", sched.ExperimentID),
				slog.String("timezone", sched.Timezone),
				slog.Any("error", err))
			return time.Time{}, false
		}
		local = now.In(loc)
	}

	window := local.Truncate(time.Minute)
	next := spec.Next(window.Add(-time.Second))
	return window, next.Equal(window)
}

// runContinuousLoop executes bounded batches of ready experiments on a
// short tick.
func (s *Scheduler) runContinuousLoop(ctx context.Context) error {
	s.logger.Info("scheduler running in continuous mode",
		slog.Duration("tick", s.cfg.ContinuousInterval),
		slog.Int("batch", s.cfg.Batch))

	ticker := time.NewTicker(s.cfg.ContinuousInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tickContinuous(ctx)
		}
	}
}

// tickContinuous dispatches up to Batch ready experiments.
func (s *Scheduler) tickContinuous(ctx context.Context) {
	experiments, err := s.store.ListExperiments(ctx)
	if err != nil {
		s.logger.Error("list experiments failed", slog.Any("error", err))
		return
	}

	dispatched := 0
	for _, exp := range experiments {
		if exp.State != types.ExperimentStateReady {
			continue
		}
		s.dispatch(ctx, exp.ID)
		dispatched++
		if dispatched >= s.cfg.Batch {
			break
		}
	}
}

// dispatch starts an execution concurrently with the scheduling loop.
func (s *Scheduler) dispatch(ctx context.Context, experimentID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.exec.Execute(ctx, experimentID); err != nil {
			switch {
			case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunnable):
				// Logged by the executor; the trigger is a no-op.
			default:
				s.logger.Error("execution failed to start",
					slog.String("experiment_id", experimentID),
					slog.Any("error", err))
			}
		}
	}()
}

// wait blocks until all dispatched executions complete. Test hook.
func (s *Scheduler) wait() {
	s.wg.Wait()
}
