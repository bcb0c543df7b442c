// Package metrics provides Prometheus metrics for the fullsend services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts experiment runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "Total number of experiment runs by final status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	// RunsActive tracks currently running experiments.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fullsend",
			Subsystem: "executor",
			Name:      "runs_active",
			Help:      "Number of experiment runs currently executing",
		},
	)

	// RunDuration tracks run execution duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fullsend",
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "Experiment run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// ToolInvocations counts tool invocation attempts by tool and outcome.
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "executor",
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocation attempts",
		},
		[]string{"tool", "outcome"}, // outcome: "success", "error", "timeout", "panic"
	)

	// ToolRetries tracks invocation attempts per run.
	ToolRetries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fullsend",
			Subsystem: "executor",
			Name:      "tool_retries",
			Help:      "Number of invocation attempts per run",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"final_status"},
	)

	// BusMessagesPublished counts bus publishes by channel.
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "bus",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to the bus",
		},
		[]string{"channel"},
	)

	// BusMessagesReceived counts bus deliveries by channel.
	BusMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "bus",
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the bus",
		},
		[]string{"channel"},
	)

	// BusPublishErrors counts failed publishes by channel.
	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Total number of failed bus publishes",
		},
		[]string{"channel"},
	)

	// RoutedMessages counts router decisions by inbound channel and gate
	// outcome.
	RoutedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "router",
			Name:      "routed_messages_total",
			Help:      "Total number of routed messages by inbound channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// MetricEventsTotal counts aggregated metric events.
	MetricEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "monitor",
			Name:      "metric_events_total",
			Help:      "Total number of metric events processed",
		},
		[]string{"event"},
	)

	// AlertsEmitted counts alerts sent by kind.
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "monitor",
			Name:      "alerts_emitted_total",
			Help:      "Total number of alerts emitted",
		},
		[]string{"kind"},
	)

	// AlertsSuppressed counts alerts dropped by the cooldown.
	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "monitor",
			Name:      "alerts_suppressed_total",
			Help:      "Total number of alerts suppressed by cooldown",
		},
		[]string{"kind"},
	)

	// HTTPRequestsTotal counts dashboard HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "dashboard",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks dashboard request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fullsend",
			Subsystem: "dashboard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperations counts store operations by operation and result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fullsend",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"operation", "result"},
	)
)
