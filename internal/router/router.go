// Package router implements the channel dispatch table: each inbound
// channel maps to a fixed set of candidate outbound channels, optionally
// gated by an action field embedded in the message.
//
// Routing is a single-level table lookup. The only real logic is gate
// evaluation: parsing an enumerated action out of a model-produced message
// and mapping it to zero, one, or two destinations. Unknown or malformed
// actions route to the most conservative destination, never silently drop.
// The one non-routing action is archive, which the router applies to the
// store directly: there is no downstream consumer to forward it to.
package router

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

// AlertGate decides whether a metric event should be surfaced on the
// alert channel. Wired by the monitor's threshold and error detection.
type AlertGate func(ev *types.MetricEvent) bool

// Router forwards messages between channels per the dispatch table and
// applies archive decisions to the store.
type Router struct {
	bus       bus.Bus
	store     store.Store
	alertGate AlertGate
	logger    *slog.Logger
}

// New creates a router. alertGate may be nil, in which case metric events
// are never routed to the alert channel by the router itself. st may be
// nil, in which case archive decisions are logged and dropped.
func New(b bus.Bus, st store.Store, alertGate AlertGate, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{bus: b, store: st, alertGate: alertGate, logger: logger}
}

// inboundChannels is the fixed set of channels the router consumes.
var inboundChannels = []string{
	bus.ChannelInbound,
	bus.ChannelClassification,
	bus.ChannelToCoordinator,
	bus.ChannelDesignRequests,
	bus.ChannelBuildRequests,
	bus.ChannelRunTriggers,
	bus.ChannelMetrics,
}

// Destinations evaluates the dispatch table for one message and returns
// the outbound channels it should be forwarded to.
func (r *Router) Destinations(channel string, data []byte) []string {
	switch channel {
	case bus.ChannelInbound:
		return []string{bus.ChannelClassification}

	case bus.ChannelClassification:
		return r.classificationDestinations(data)

	case bus.ChannelToCoordinator:
		return r.decisionDestinations(data)

	case bus.ChannelDesignRequests:
		return r.designDestinations(data)

	case bus.ChannelBuildRequests:
		return []string{bus.ChannelBuildResults}

	case bus.ChannelRunTriggers:
		return []string{bus.ChannelMetrics, bus.ChannelExperimentResults}

	case bus.ChannelMetrics:
		return r.metricDestinations(data)

	default:
		return nil
	}
}

// classificationDestinations gates on the classifier's action field.
// ignore drops, answer goes to the response channel, and everything else
// escalates: losing a message costs more than over-escalating.
func (r *Router) classificationDestinations(data []byte) []string {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("unparseable classification escalated", slog.Any("error", err))
		return []string{bus.ChannelToCoordinator}
	}

	switch types.ClassifierAction(env.String("action")) {
	case types.ClassifierActionIgnore:
		return nil
	case types.ClassifierActionAnswer:
		return []string{bus.ChannelResponses}
	case types.ClassifierActionEscalate:
		return []string{bus.ChannelToCoordinator}
	default:
		r.logger.Warn("unknown classifier action escalated",
			slog.String("action", env.String("action")))
		return []string{bus.ChannelToCoordinator}
	}
}

// decisionDestinations gates on the coordinator's action field. Messages
// without an action (e.g. alerts addressed to the coordinator) route
// nowhere; the coordinator consumes them directly.
func (r *Router) decisionDestinations(data []byte) []string {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("unparseable coordinator message dropped", slog.Any("error", err))
		return nil
	}

	action := env.String("action")
	switch types.DecisionAction(action) {
	case types.DecisionActionDesignRequest:
		return []string{bus.ChannelDesignRequests}
	case types.DecisionActionBuildRequest:
		return []string{bus.ChannelBuildRequests}
	case types.DecisionActionRespond:
		return []string{bus.ChannelResponses}
	case types.DecisionActionArchive, types.DecisionActionNoOp:
		return nil
	default:
		if action != "" {
			r.logger.Warn("unknown decision action dropped", slog.String("action", action))
		}
		return nil
	}
}

// designDestinations always triggers execution and additionally requests
// a build when the design names a capability that does not exist yet.
func (r *Router) designDestinations(data []byte) []string {
	dests := []string{bus.ChannelRunTriggers}

	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("unparseable design request, forwarding to execution only",
			slog.Any("error", err))
		return dests
	}

	if env.String("missing_tool") != "" {
		dests = append(dests, bus.ChannelBuildRequests)
	} else if needs, ok := env.Payload["requires_build"].(bool); ok && needs {
		dests = append(dests, bus.ChannelBuildRequests)
	}
	return dests
}

// metricDestinations routes a metric event to the alert channel only when
// the gate detects a threshold or error condition.
func (r *Router) metricDestinations(data []byte) []string {
	if r.alertGate == nil {
		return nil
	}

	var ev types.MetricEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Warn("unparseable metric event dropped", slog.Any("error", err))
		return nil
	}
	if ev.Validate() != nil || ev.Event == "" {
		return nil
	}
	if r.alertGate(&ev) {
		return []string{bus.ChannelToCoordinator}
	}
	return nil
}

// applyArchive handles the one coordinator action with a side effect. An
// archive decision retires the experiment: terminal state write with the
// archive fields, and the schedule disabled so interval mode stops
// picking it up. Every other action only routes.
func (r *Router) applyArchive(ctx context.Context, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if types.DecisionAction(env.String("action")) != types.DecisionActionArchive {
		return
	}
	if r.store == nil {
		r.logger.Warn("archive decision received without a store, dropped")
		return
	}

	id := env.String("experiment_id")
	if id == "" {
		r.logger.Warn("archive decision missing experiment_id")
		return
	}
	reason := env.String("reason")
	if reason == "" {
		reason = env.String("reasoning")
	}

	extra := map[string]string{
		"archived_at": time.Now().UTC().Format(time.RFC3339),
		"archived_by": "coordinator",
	}
	if reason != "" {
		extra["archived_reason"] = reason
	}
	if err := r.store.SetExperimentState(ctx, id, types.ExperimentStateArchived, extra); err != nil {
		r.logger.Error("archive failed",
			slog.String("experiment_id", id), slog.Any("error", err))
		return
	}

	if sched, err := r.store.GetSchedule(ctx, id); err == nil && sched.Enabled {
		sched.Enabled = false
		if err := r.store.PutSchedule(ctx, sched); err != nil {
			r.logger.Error("disable schedule failed",
				slog.String("experiment_id", id), slog.Any("error", err))
		}
	}

	r.logger.Info("experiment archived",
		slog.String("experiment_id", id), slog.String("reason", reason))
}

// Dispatch forwards one message to its destinations, applying any archive
// decision it carries first.
func (r *Router) Dispatch(ctx context.Context, channel string, data []byte) error {
	if channel == bus.ChannelToCoordinator {
		r.applyArchive(ctx, data)
	}

	dests := r.Destinations(channel, data)
	if len(dests) == 0 {
		metrics.RoutedMessages.WithLabelValues(channel, "dropped").Inc()
		return nil
	}

	for _, dest := range dests {
		if err := r.bus.Publish(ctx, dest, data); err != nil {
			metrics.RoutedMessages.WithLabelValues(channel, "error").Inc()
			return fmt.Errorf("forward %s -> %s: %w", channel, dest, err)
		}
	}
	metrics.RoutedMessages.WithLabelValues(channel, "forwarded").Inc()
	return nil
}

// Run consumes every channel in the dispatch table until the context is
// cancelled. Forwarding failures are logged; the loop never exits on a
// single bad message.
func (r *Router) Run(ctx context.Context) error {
	msgs, cleanup, err := r.bus.Subscribe(ctx, inboundChannels...)
	if err != nil {
		return fmt.Errorf("subscribe routing channels: %w", err)
	}
	defer cleanup()

	r.logger.Info("router started", slog.Int("channels", len(inboundChannels)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.Dispatch(ctx, msg.Channel, msg.Data); err != nil {
				r.logger.Error("dispatch failed",
					slog.String("channel", msg.Channel), slog.Any("error", err))
			}
		}
	}
}
