package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/store"
	"github.com/fullsend/fullsend/pkg/types"
)

// fakeClock is an adjustable time source for cooldown tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDeduper_Cooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDeduper(300*time.Second, clock.now)

	// t=0: first alert goes out.
	if !d.Allow("exp-1", types.AlertKindError) {
		t.Fatal("first alert must be allowed")
	}
	d.Record("exp-1", types.AlertKindError)
	// t=100: same (experiment, kind) suppressed.
	clock.advance(100 * time.Second)
	if d.Allow("exp-1", types.AlertKindError) {
		t.Error("alert inside cooldown window must be suppressed")
	}
	// t=400: 300s elapsed since the send at t=0, allowed again.
	clock.advance(300 * time.Second)
	if !d.Allow("exp-1", types.AlertKindError) {
		t.Error("alert after cooldown window must be allowed")
	}
}

func TestDeduper_KeyedPerExperimentAndKind(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := NewDeduper(300*time.Second, clock.now)

	if !d.Allow("exp-1", types.AlertKindError) {
		t.Fatal("first alert must be allowed")
	}
	d.Record("exp-1", types.AlertKindError)
	// Different kind, same experiment: independent window.
	if !d.Allow("exp-1", types.AlertKindSuccessThreshold) {
		t.Error("different kind must have its own cooldown")
	}
	// Different experiment, same kind: independent window.
	if !d.Allow("exp-2", types.AlertKindError) {
		t.Error("different experiment must have its own cooldown")
	}
}

func TestDeduper_Clear(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := NewDeduper(300*time.Second, clock.now)

	d.Record("exp-1", types.AlertKindError)
	if d.Allow("exp-1", types.AlertKindError) {
		t.Fatal("second alert should be suppressed before Clear")
	}
	d.Clear()
	if !d.Allow("exp-1", types.AlertKindError) {
		t.Error("Clear must reset cooldown state")
	}
}

func newTestMonitor(t *testing.T, clock *fakeClock) (*Monitor, *store.MemoryStore, *bus.MemoryBus) {
	t.Helper()
	st := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	m := New(st, b, nil, nil, clock.now)
	t.Cleanup(func() {
		b.Close()
		st.Close()
	})
	return m, st, b
}

func subscribeAlerts(t *testing.T, b *bus.MemoryBus) <-chan bus.Message {
	t.Helper()
	msgs, cleanup, err := b.Subscribe(context.Background(), bus.ChannelToCoordinator)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(cleanup)
	return msgs
}

func recvAlert(t *testing.T, msgs <-chan bus.Message) *types.Alert {
	t.Helper()
	select {
	case msg := <-msgs:
		var alert types.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		return &alert
	case <-time.After(time.Second):
		t.Fatal("expected an alert")
		return nil
	}
}

func expectNoAlert(t *testing.T, msgs <-chan bus.Message) {
	t.Helper()
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected alert: %s", msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessMetric_RecordsAndAggregates(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, st, _ := newTestMonitor(t, clock)
	ctx := context.Background()

	ev, _ := json.Marshal(map[string]any{
		"experiment_id": "exp-1",
		"event":         "emails_sent",
		"count":         10,
	})
	m.ProcessMetric(ctx, ev)

	aggregates, err := st.AggregatedMetrics(ctx, "exp-1")
	if err != nil {
		t.Fatalf("AggregatedMetrics failed: %v", err)
	}
	if aggregates["emails_sent_count"] != 1 {
		t.Errorf("expected emails_sent_count=1, got %v", aggregates["emails_sent_count"])
	}
	if aggregates["count_latest"] != 10 {
		t.Errorf("expected count_latest=10, got %v", aggregates["count_latest"])
	}
}

func TestProcessMetric_ErrorEventAlertsImmediately(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, _, b := newTestMonitor(t, clock)
	msgs := subscribeAlerts(t, b)
	ctx := context.Background()

	ev, _ := json.Marshal(map[string]any{
		"experiment_id": "exp-1",
		"event":         "error",
		"message":       "scrape target returned 403",
	})
	m.ProcessMetric(ctx, ev)

	alert := recvAlert(t, msgs)
	if alert.Kind != types.AlertKindError {
		t.Errorf("expected error alert, got %s", alert.Kind)
	}
	if alert.ExperimentID != "exp-1" {
		t.Errorf("unexpected experiment id %q", alert.ExperimentID)
	}
	if alert.Severity != "high" {
		t.Errorf("expected high severity, got %q", alert.Severity)
	}
}

func TestProcessMetric_MalformedSkipped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, _, b := newTestMonitor(t, clock)
	msgs := subscribeAlerts(t, b)
	ctx := context.Background()

	m.ProcessMetric(ctx, []byte("not json"))
	m.ProcessMetric(ctx, []byte(`{"event": "no_id"}`))

	expectNoAlert(t, msgs)
}

func TestCheckThresholds_FiresMatchingCriteria(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, st, b := newTestMonitor(t, clock)
	msgs := subscribeAlerts(t, b)
	ctx := context.Background()

	exp := &types.Experiment{
		ID:              "exp-growth",
		State:           types.ExperimentStateRunning,
		SuccessCriteria: []string{"response_rate > 0.10"},
		FailureCriteria: []string{"bounce_rate > 0.5"},
	}
	if err := st.PutExperiment(ctx, exp); err != nil {
		t.Fatalf("PutExperiment failed: %v", err)
	}
	if err := st.RecordMetric(ctx, &types.MetricEvent{
		ExperimentID: "exp-growth",
		Event:        "responses",
		Values:       map[string]any{"response_rate": 0.15, "bounce_rate": 0.1},
	}); err != nil {
		t.Fatalf("RecordMetric failed: %v", err)
	}

	m.CheckThresholds(ctx)

	alert := recvAlert(t, msgs)
	if alert.Kind != types.AlertKindSuccessThreshold {
		t.Errorf("expected success_threshold, got %s", alert.Kind)
	}
	if alert.Criterion != "response_rate > 0.10" {
		t.Errorf("unexpected criterion %q", alert.Criterion)
	}
	// bounce_rate is below its failure threshold: exactly one alert.
	expectNoAlert(t, msgs)
}

func TestCheckThresholds_CooldownAcrossSweeps(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, st, b := newTestMonitor(t, clock)
	msgs := subscribeAlerts(t, b)
	ctx := context.Background()

	st.PutExperiment(ctx, &types.Experiment{
		ID:              "exp-growth",
		State:           types.ExperimentStateRun,
		SuccessCriteria: []string{"response_rate > 0.10"},
	})
	st.RecordMetric(ctx, &types.MetricEvent{
		ExperimentID: "exp-growth",
		Event:        "responses",
		Values:       map[string]any{"response_rate": 0.15},
	})

	m.CheckThresholds(ctx)
	recvAlert(t, msgs)

	// 100s later the metric still holds; the cooldown suppresses.
	clock.advance(100 * time.Second)
	m.CheckThresholds(ctx)
	expectNoAlert(t, msgs)

	// 400s after the first alert, it fires again.
	clock.advance(300 * time.Second)
	m.CheckThresholds(ctx)
	recvAlert(t, msgs)
}

func TestCheckThresholds_SkipsInactiveExperiments(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, st, b := newTestMonitor(t, clock)
	msgs := subscribeAlerts(t, b)
	ctx := context.Background()

	st.PutExperiment(ctx, &types.Experiment{
		ID:              "exp-archived",
		State:           types.ExperimentStateArchived,
		SuccessCriteria: []string{"response_rate > 0.10"},
	})
	st.RecordMetric(ctx, &types.MetricEvent{
		ExperimentID: "exp-archived",
		Event:        "responses",
		Values:       map[string]any{"response_rate": 0.9},
	})

	m.CheckThresholds(ctx)
	expectNoAlert(t, msgs)
}

func TestAlertGate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	m, _, _ := newTestMonitor(t, clock)

	if !m.AlertGate(&types.MetricEvent{ExperimentID: "x", Event: "error"}) {
		t.Error("error events pass the gate")
	}
	if m.AlertGate(&types.MetricEvent{ExperimentID: "x", Event: "emails_sent"}) {
		t.Error("ordinary events do not pass the gate")
	}
}

// flakyBus fails the first N publishes, then delegates.
type flakyBus struct {
	bus.Bus
	failures int
}

func (f *flakyBus) Publish(ctx context.Context, channel string, payload any) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return f.Bus.Publish(ctx, channel, payload)
}

func TestSendAlert_FailedPublishDoesNotConsumeCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	mb := bus.NewMemoryBus()
	st := store.NewMemoryStore()
	t.Cleanup(func() {
		mb.Close()
		st.Close()
	})
	m := New(st, &flakyBus{Bus: mb, failures: 1}, nil, nil, clock.now)
	ctx := context.Background()
	alerts := subscribeAlerts(t, mb)

	if m.sendAlert(ctx, &types.Alert{Kind: types.AlertKindError, ExperimentID: "exp-1", Message: "boom"}) {
		t.Fatal("send must report failure when publish fails")
	}
	expectNoAlert(t, alerts)

	// Retry inside the window: the failed publish must not have opened
	// the cooldown.
	clock.advance(10 * time.Second)
	if !m.sendAlert(ctx, &types.Alert{Kind: types.AlertKindError, ExperimentID: "exp-1", Message: "boom"}) {
		t.Fatal("retry after failed publish must be allowed")
	}
	got := recvAlert(t, alerts)
	if got.ExperimentID != "exp-1" {
		t.Errorf("ExperimentID = %q", got.ExperimentID)
	}

	// The successful send opens the window as usual.
	clock.advance(10 * time.Second)
	if m.sendAlert(ctx, &types.Alert{Kind: types.AlertKindError, ExperimentID: "exp-1", Message: "boom"}) {
		t.Fatal("alert inside cooldown after a successful send must be suppressed")
	}
	expectNoAlert(t, alerts)
}
