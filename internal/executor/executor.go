// Package executor turns a persisted experiment into a unit of work: it
// resolves the experiment's tool, invokes it under a timeout with bounded
// retries, records the run, and reports the outcome on the bus.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/metrics"
	"github.com/fullsend/fullsend/internal/store"
	"github.com/fullsend/fullsend/internal/tools"
	"github.com/fullsend/fullsend/pkg/types"
)

// ErrAlreadyRunning is returned when a run is triggered for an experiment
// that already has an active run. The trigger is dropped, not queued.
var ErrAlreadyRunning = errors.New("experiment already running")

// ErrNotRunnable is returned when a run is triggered for an experiment
// whose lifecycle state cannot move through running: archived is terminal
// and draft has not been promoted yet.
var ErrNotRunnable = errors.New("experiment not in a runnable state")

// Config holds execution tuning knobs.
type Config struct {
	// Timeout bounds a single tool invocation. A timed-out invocation is
	// abandoned and the run fails without retry.
	Timeout time.Duration

	// MaxAttempts caps invocations per run for transient failures.
	MaxAttempts int

	// RetryBackoff is the initial delay between attempts; it doubles per
	// retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns the deployed defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      300 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: 1 * time.Second,
	}
}

// Executor runs experiments. Safe for concurrent use; at most one run per
// experiment id is active at a time within the process.
type Executor struct {
	store    store.Store
	bus      bus.Bus
	registry *tools.Registry
	cfg      *Config
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an executor.
func New(st store.Store, b bus.Bus, registry *tools.Registry, cfg *Config, logger *slog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    st,
		bus:      b,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Execute runs one experiment end to end: mark running, invoke the tool,
// write exactly one run record, transition the experiment, and publish the
// result. A trigger for an experiment that is already mid-run returns
// ErrAlreadyRunning without side effects; one whose stored state is
// archived or draft returns ErrNotRunnable without side effects.
func (e *Executor) Execute(ctx context.Context, experimentID string) (*types.RunRecord, error) {
	if experimentID == "" {
		return nil, types.ErrMissingID
	}

	e.mu.Lock()
	if _, active := e.inflight[experimentID]; active {
		e.mu.Unlock()
		e.logger.Info("run trigger ignored, experiment already running",
			slog.String("experiment_id", experimentID))
		return nil, ErrAlreadyRunning
	}
	e.inflight[experimentID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, experimentID)
		e.mu.Unlock()
	}()

	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment %s: %w", experimentID, err)
	}
	switch exp.State {
	case types.ExperimentStateArchived, types.ExperimentStateDraft:
		e.logger.Info("run trigger ignored, experiment not runnable",
			slog.String("experiment_id", experimentID),
			slog.String("state", string(exp.State)))
		return nil, fmt.Errorf("experiment %s is %s: %w", experimentID, exp.State, ErrNotRunnable)
	}

	startedAt := time.Now()
	rec := &types.RunRecord{
		ExperimentID: experimentID,
		StartedAt:    startedAt,
	}
	runID := rec.RunID()

	e.logger.Info("starting experiment run",
		slog.String("experiment_id", experimentID),
		slog.String("run_id", runID),
		slog.String("tool", exp.Execution.Tool),
	)

	if err := e.store.SetExperimentState(ctx, experimentID, types.ExperimentStateRunning, nil); err != nil {
		e.logger.Error("set state running failed", slog.String("experiment_id", experimentID), slog.Any("error", err))
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	e.emitMetric(ctx, experimentID, "run_started", map[string]any{
		"run_id": runID,
		"tool":   exp.Execution.Tool,
	})

	payload, attempts, errClass, invokeErr := e.invokeWithRetry(ctx, exp)
	duration := time.Since(startedAt)
	rec.Duration = duration
	rec.Attempts = attempts

	if invokeErr != nil {
		rec.Status = types.RunStatusFailed
		rec.ErrorClass = errClass
		rec.Error = invokeErr.Error()
		e.finishRun(ctx, exp, rec)
		return rec, nil
	}

	rec.Status = types.RunStatusCompleted
	rec.Summary = types.SummarizeResult(payload)

	e.emitMetric(ctx, experimentID, "run_completed", map[string]any{
		"run_id":           runID,
		"duration_seconds": duration.Seconds(),
	})
	if items, ok := rec.Summary["items"]; ok {
		e.emitMetric(ctx, experimentID, "result_items", map[string]any{
			"run_id": runID,
			"items":  items,
		})
	}

	e.finishRun(ctx, exp, rec)
	return rec, nil
}

// finishRun persists the run record, transitions the experiment, updates
// process metrics, and publishes the result message. Runs for both
// outcomes; the executor always reports.
func (e *Executor) finishRun(ctx context.Context, exp *types.Experiment, rec *types.RunRecord) {
	if err := e.store.SaveRun(ctx, rec); err != nil {
		e.logger.Error("save run record failed",
			slog.String("run_id", rec.RunID()), slog.Any("error", err))
	}

	nextState := types.ExperimentStateRun
	msgType := types.MsgTypeExperimentCompleted
	if rec.Status == types.RunStatusFailed {
		nextState = types.ExperimentStateFailed
		msgType = types.MsgTypeExperimentFailed

		e.emitMetric(ctx, rec.ExperimentID, "error", map[string]any{
			"run_id":      rec.RunID(),
			"error_class": string(rec.ErrorClass),
			"message":     rec.Error,
		})
	}

	if err := e.store.SetExperimentState(ctx, rec.ExperimentID, nextState, nil); err != nil {
		e.logger.Error("set final state failed",
			slog.String("experiment_id", rec.ExperimentID), slog.Any("error", err))
	}

	metrics.RunsTotal.WithLabelValues(string(rec.Status)).Inc()
	metrics.RunDuration.WithLabelValues(string(rec.Status)).Observe(rec.Duration.Seconds())
	metrics.ToolRetries.WithLabelValues(string(rec.Status)).Observe(float64(rec.Attempts))

	result := types.NewEnvelope(msgType, "executor", map[string]any{
		"experiment_id": rec.ExperimentID,
		"run_id":        rec.RunID(),
		"status":        string(rec.Status),
		"duration":      rec.Duration.Seconds(),
	})
	if rec.Status == types.RunStatusFailed {
		result.Payload["error_class"] = string(rec.ErrorClass)
		result.Payload["error"] = rec.Error
	}

	if err := e.bus.Publish(ctx, bus.ChannelExperimentResults, result); err != nil {
		e.logger.Error("publish result failed",
			slog.String("run_id", rec.RunID()), slog.Any("error", err))
	}

	e.logger.Info("experiment run finished",
		slog.String("run_id", rec.RunID()),
		slog.String("status", string(rec.Status)),
		slog.Int("attempts", rec.Attempts),
		slog.Duration("duration", rec.Duration),
	)
}

// invokeWithRetry runs the tool with the retry policy: not-found and
// timeout are terminal, transient faults retry with doubling backoff up to
// the attempt cap, anything else fails on the first attempt.
func (e *Executor) invokeWithRetry(ctx context.Context, exp *types.Experiment) (payload any, attempts int, class types.ErrorClass, err error) {
	toolName := exp.Execution.Tool
	if toolName == "" {
		return nil, 0, types.ErrorClassNotFound, fmt.Errorf("%w: experiment %s declares no tool", tools.ErrToolNotFound, exp.ID)
	}

	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		result, invokeErr := e.invokeOnce(ctx, exp, toolName)

		if invokeErr == nil && result != nil && result.Success {
			metrics.ToolInvocations.WithLabelValues(toolName, "success").Inc()
			return result.Payload, attempts, "", nil
		}

		if invokeErr == nil {
			// Structured failure result from the tool itself. Not retried.
			metrics.ToolInvocations.WithLabelValues(toolName, "error").Inc()
			msg := result.Error
			if msg == "" {
				msg = "tool reported failure"
			}
			return nil, attempts, types.ErrorClassRuntime, errors.New(msg)
		}

		lastErr = invokeErr
		class = classifyError(invokeErr)
		switch class {
		case types.ErrorClassTimeout:
			metrics.ToolInvocations.WithLabelValues(toolName, "timeout").Inc()
			return nil, attempts, class, fmt.Errorf("tool %s exceeded %s budget: %w", toolName, e.cfg.Timeout, invokeErr)
		case types.ErrorClassNotFound:
			metrics.ToolInvocations.WithLabelValues(toolName, "error").Inc()
			return nil, attempts, class, invokeErr
		case types.ErrorClassTransient:
			metrics.ToolInvocations.WithLabelValues(toolName, "error").Inc()
			if attempt == e.cfg.MaxAttempts {
				return nil, attempts, class, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, invokeErr)
			}
			e.logger.Warn("transient tool failure, retrying",
				slog.String("tool", toolName),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", invokeErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, attempts, types.ErrorClassRuntime, ctx.Err()
			}
			backoff *= 2
		default:
			metrics.ToolInvocations.WithLabelValues(toolName, "error").Inc()
			return nil, attempts, types.ErrorClassRuntime, invokeErr
		}
	}

	return nil, attempts, class, lastErr
}

// invokeOnce performs a single invocation under the configured timeout.
// On timeout the invocation goroutine is abandoned: the tool may still be
// running, but the run proceeds to failure without waiting for it.
func (e *Executor) invokeOnce(ctx context.Context, exp *types.Experiment, toolName string) (*types.ToolResult, error) {
	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	tracer := otel.Tracer("fullsend/executor")
	spanCtx, span := tracer.Start(toolCtx, "tool.execute")
	span.SetAttributes(
		attribute.String("experiment.id", exp.ID),
		attribute.String("tool.name", toolName),
	)
	defer span.End()

	type outcome struct {
		result *types.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := e.registry.Invoke(spanCtx, toolName, exp.Execution.Params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-toolCtx.Done():
		return nil, toolCtx.Err()
	}
}

// emitMetric publishes a metric event on the metrics channel. Emission is
// best effort; a failed publish never fails the run.
func (e *Executor) emitMetric(ctx context.Context, experimentID, event string, values map[string]any) {
	ev := &types.MetricEvent{
		ExperimentID: experimentID,
		Event:        event,
		Timestamp:    time.Now().UTC(),
		Values:       values,
	}
	if err := e.bus.Publish(ctx, bus.ChannelMetrics, ev); err != nil {
		e.logger.Warn("metric event publish failed",
			slog.String("event", event), slog.Any("error", err))
	}
}
