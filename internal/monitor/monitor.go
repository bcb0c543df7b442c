// Package monitor consumes the metric stream, maintains aggregates, and
// fires threshold alerts toward the coordinator with cooldown-based
// deduplication.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/metrics"
	"github.com/fullsend/fullsend/internal/store"
	"github.com/fullsend/fullsend/pkg/types"
)

// Config holds monitor cadences and the alert cooldown.
type Config struct {
	// AlertCooldown suppresses repeat (experiment, kind) alerts.
	AlertCooldown time.Duration

	// CheckInterval is the cadence of the threshold sweep.
	CheckInterval time.Duration

	// SummaryInterval is the cadence of periodic summary alerts.
	SummaryInterval time.Duration
}

// DefaultConfig returns the deployed defaults.
func DefaultConfig() *Config {
	return &Config{
		AlertCooldown:   300 * time.Second,
		CheckInterval:   60 * time.Second,
		SummaryInterval: 3600 * time.Second,
	}
}

// Monitor is the metrics watcher service.
type Monitor struct {
	store  store.Store
	bus    bus.Bus
	cfg    *Config
	dedup  *Deduper
	logger *slog.Logger
	now    func() time.Time
}

// New creates a monitor. now may be nil, defaulting to time.Now.
func New(st store.Store, b bus.Bus, cfg *Config, logger *slog.Logger, now func() time.Time) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		store:  st,
		bus:    b,
		cfg:    cfg,
		dedup:  NewDeduper(cfg.AlertCooldown, now),
		logger: logger,
		now:    now,
	}
}

// AlertGate reports whether a metric event warrants immediate surfacing on
// the alert channel. Pluggable into the dispatch router's metrics row.
func (m *Monitor) AlertGate(ev *types.MetricEvent) bool {
	return ev.Event == "error"
}

// Run consumes the metrics channel and runs the periodic threshold and
// summary sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	msgs, cleanup, err := m.bus.Subscribe(ctx, bus.ChannelMetrics)
	if err != nil {
		return fmt.Errorf("subscribe metrics channel: %w", err)
	}
	defer cleanup()

	checkTicker := time.NewTicker(m.cfg.CheckInterval)
	defer checkTicker.Stop()
	summaryTicker := time.NewTicker(m.cfg.SummaryInterval)
	defer summaryTicker.Stop()

	m.logger.Info("monitor started",
		slog.Duration("check_interval", m.cfg.CheckInterval),
		slog.Duration("cooldown", m.cfg.AlertCooldown))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			m.ProcessMetric(ctx, msg.Data)
		case <-checkTicker.C:
			m.CheckThresholds(ctx)
		case <-summaryTicker.C:
			m.publishSummaries(ctx)
		}
	}
}

// ProcessMetric records one raw metric event and fires an immediate alert
// for error events. Malformed events are logged and skipped.
func (m *Monitor) ProcessMetric(ctx context.Context, data []byte) {
	var ev types.MetricEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		m.logger.Error("failed to parse metric message", slog.Any("error", err))
		return
	}
	if err := ev.Validate(); err != nil {
		m.logger.Warn("metric missing experiment_id, skipping")
		return
	}
	if ev.Event == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now().UTC()
	}

	if err := m.store.RecordMetric(ctx, &ev); err != nil {
		m.logger.Error("record metric failed",
			slog.String("experiment_id", ev.ExperimentID), slog.Any("error", err))
		return
	}
	metrics.MetricEventsTotal.WithLabelValues(ev.Event).Inc()

	if ev.Event == "error" {
		msg := ev.Message
		if msg == "" {
			msg = "unknown error"
		}
		m.sendAlert(ctx, &types.Alert{
			Kind:         types.AlertKindError,
			ExperimentID: ev.ExperimentID,
			Message:      msg,
			Severity:     "high",
		})
	}
}

// CheckThresholds sweeps all active experiments and fires an alert for
// every success or failure criterion that currently holds.
func (m *Monitor) CheckThresholds(ctx context.Context) {
	experiments, err := m.store.ListExperiments(ctx)
	if err != nil {
		m.logger.Error("list experiments failed", slog.Any("error", err))
		return
	}

	for _, exp := range experiments {
		if !activeState(exp.State) {
			continue
		}
		m.checkExperiment(ctx, exp)
	}
}

// activeState reports whether an experiment participates in threshold
// checking.
func activeState(s types.ExperimentState) bool {
	switch s {
	case types.ExperimentStateRunning, types.ExperimentStateRun, types.ExperimentStateReady:
		return true
	default:
		return false
	}
}

func (m *Monitor) checkExperiment(ctx context.Context, exp *types.Experiment) {
	aggregates, err := m.store.AggregatedMetrics(ctx, exp.ID)
	if err != nil {
		m.logger.Error("load aggregates failed",
			slog.String("experiment_id", exp.ID), slog.Any("error", err))
		return
	}
	if len(aggregates) == 0 {
		return
	}

	current := make(map[string]any, len(aggregates))
	for k, v := range aggregates {
		current[k] = v
	}

	for _, criterion := range exp.SuccessCriteria {
		if EvaluateCriterion(criterion, aggregates, m.logger) {
			m.sendAlert(ctx, &types.Alert{
				Kind:         types.AlertKindSuccessThreshold,
				ExperimentID: exp.ID,
				Criterion:    criterion,
				Current:      current,
				Message:      fmt.Sprintf("experiment %s hit success: %s", exp.ID, criterion),
			})
		}
	}
	for _, criterion := range exp.FailureCriteria {
		if EvaluateCriterion(criterion, aggregates, m.logger) {
			m.sendAlert(ctx, &types.Alert{
				Kind:         types.AlertKindFailureThreshold,
				ExperimentID: exp.ID,
				Criterion:    criterion,
				Current:      current,
				Severity:     "high",
				Message:      fmt.Sprintf("experiment %s hit failure: %s", exp.ID, criterion),
			})
		}
	}
}

// publishSummaries emits a periodic summary alert per active experiment
// with its current aggregate view.
func (m *Monitor) publishSummaries(ctx context.Context) {
	experiments, err := m.store.ListExperiments(ctx)
	if err != nil {
		m.logger.Error("list experiments failed", slog.Any("error", err))
		return
	}

	for _, exp := range experiments {
		if !activeState(exp.State) {
			continue
		}
		aggregates, err := m.store.AggregatedMetrics(ctx, exp.ID)
		if err != nil || len(aggregates) == 0 {
			continue
		}
		current := make(map[string]any, len(aggregates))
		for k, v := range aggregates {
			current[k] = v
		}
		m.sendAlert(ctx, &types.Alert{
			Kind:         types.AlertKindPeriodicSummary,
			ExperimentID: exp.ID,
			Current:      current,
			Message:      fmt.Sprintf("periodic summary for %s: %d tracked fields", exp.ID, len(aggregates)),
		})
	}
}

// sendAlert publishes an alert to the coordinator channel unless the
// cooldown suppresses it. Returns whether the alert was sent.
func (m *Monitor) sendAlert(ctx context.Context, alert *types.Alert) bool {
	if !m.dedup.Allow(alert.ExperimentID, alert.Kind) {
		metrics.AlertsSuppressed.WithLabelValues(string(alert.Kind)).Inc()
		m.logger.Debug("alert suppressed by cooldown",
			slog.String("experiment_id", alert.ExperimentID),
			slog.String("kind", string(alert.Kind)))
		return false
	}

	alert.Timestamp = m.now().UTC()
	alert.Source = "monitor"

	if err := m.bus.Publish(ctx, bus.ChannelToCoordinator, alert); err != nil {
		m.logger.Error("publish alert failed",
			slog.String("experiment_id", alert.ExperimentID), slog.Any("error", err))
		return false
	}
	m.dedup.Record(alert.ExperimentID, alert.Kind)
	metrics.AlertsEmitted.WithLabelValues(string(alert.Kind)).Inc()
	m.logger.Info("alert sent",
		slog.String("experiment_id", alert.ExperimentID),
		slog.String("kind", string(alert.Kind)),
		slog.String("message", alert.Message))
	return true
}
