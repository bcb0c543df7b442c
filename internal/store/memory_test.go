package store

import (
	"context"
	"testing"
	"time"

	"github.com/fullsend/fullsend/pkg/types"
)

func TestMemoryStore_Experiments(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	t.Run("round trip preserves identity and state", func(t *testing.T) {
		exp := &types.Experiment{
			ID:         "exp-1",
			Hypothesis: "short emails get replies",
			State:      types.ExperimentStateReady,
			Execution:  types.Execution{Tool: "cold_email_sender"},
		}
		if err := s.PutExperiment(ctx, exp); err != nil {
			t.Fatalf("put: %v", err)
		}

		got, err := s.GetExperiment(ctx, "exp-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != "exp-1" {
			t.Errorf("ID = %q", got.ID)
		}
		if got.State != types.ExperimentStateReady {
			t.Errorf("State = %q", got.State)
		}
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		if err := s.PutExperiment(ctx, &types.Experiment{}); err != types.ErrMissingID {
			t.Errorf("expected ErrMissingID, got %v", err)
		}
	})

	t.Run("state overlay wins over document", func(t *testing.T) {
		if err := s.SetExperimentState(ctx, "exp-1", types.ExperimentStateRunning, nil); err != nil {
			t.Fatalf("set state: %v", err)
		}
		got, err := s.GetExperiment(ctx, "exp-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != types.ExperimentStateRunning {
			t.Errorf("State = %q, want running", got.State)
		}
	})

	t.Run("archive fields retained", func(t *testing.T) {
		err := s.SetExperimentState(ctx, "exp-1", types.ExperimentStateArchived, map[string]string{
			"archived_reason": "no signal",
		})
		if err != nil {
			t.Fatalf("set state: %v", err)
		}
		got, _ := s.GetExperiment(ctx, "exp-1")
		if got.Extra["archived_reason"] != "no signal" {
			t.Errorf("archived_reason = %v", got.Extra["archived_reason"])
		}
	})

	t.Run("unknown experiment", func(t *testing.T) {
		if _, err := s.GetExperiment(ctx, "nope"); err != ErrExperimentNotFound {
			t.Errorf("expected ErrExperimentNotFound, got %v", err)
		}
		if err := s.SetExperimentState(ctx, "nope", types.ExperimentStateReady, nil); err != ErrExperimentNotFound {
			t.Errorf("expected ErrExperimentNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Runs(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := &types.RunRecord{
		ExperimentID: "exp-1",
		StartedAt:    started,
		Status:       types.RunStatusCompleted,
		Duration:     2500 * time.Millisecond,
		Attempts:     1,
		Summary:      map[string]any{"items": float64(3)},
	}

	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Run("immutable once written", func(t *testing.T) {
		if err := s.SaveRun(ctx, rec); err != ErrRunExists {
			t.Errorf("expected ErrRunExists, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := s.GetRun(ctx, rec.RunID())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != types.RunStatusCompleted {
			t.Errorf("Status = %q", got.Status)
		}
		if got.Duration != 2500*time.Millisecond {
			t.Errorf("Duration = %v", got.Duration)
		}
		if got.Summary["items"] != float64(3) {
			t.Errorf("Summary = %v", got.Summary)
		}
	})

	t.Run("list by experiment", func(t *testing.T) {
		second := &types.RunRecord{
			ExperimentID: "exp-1",
			StartedAt:    started.Add(time.Hour),
			Status:       types.RunStatusFailed,
			ErrorClass:   types.ErrorClassTimeout,
			Error:        "tool exceeded 300s budget",
			Attempts:     1,
		}
		if err := s.SaveRun(ctx, second); err != nil {
			t.Fatalf("save second: %v", err)
		}

		runs, err := s.ListRuns(ctx, "exp-1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("got %d runs, want 2", len(runs))
		}
	})
}

func TestMemoryStore_MetricAggregation(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	events := []*types.MetricEvent{
		{ExperimentID: "exp-1", Event: "emails_sent", Values: map[string]any{"count": float64(10)}},
		{ExperimentID: "exp-1", Event: "emails_sent", Values: map[string]any{"count": float64(15)}},
		{ExperimentID: "exp-1", Event: "response", Values: map[string]any{"response_rate": 0.12}},
	}
	for _, ev := range events {
		if err := s.RecordMetric(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	agg, err := s.AggregatedMetrics(ctx, "exp-1")
	if err != nil {
		t.Fatalf("aggregates: %v", err)
	}

	if agg["emails_sent_count"] != 2 {
		t.Errorf("emails_sent_count = %v, want 2", agg["emails_sent_count"])
	}
	if agg["count"] != 25 {
		t.Errorf("count sum = %v, want 25", agg["count"])
	}
	if agg["count_latest"] != 15 {
		t.Errorf("count_latest = %v, want 15", agg["count_latest"])
	}
	if agg["count_avg"] != 12.5 {
		t.Errorf("count_avg = %v, want 12.5", agg["count_avg"])
	}
	if agg["response_rate_latest"] != 0.12 {
		t.Errorf("response_rate_latest = %v", agg["response_rate_latest"])
	}

	t.Run("rejects missing identity", func(t *testing.T) {
		if err := s.RecordMetric(ctx, &types.MetricEvent{Event: "x"}); err != types.ErrMissingID {
			t.Errorf("expected ErrMissingID, got %v", err)
		}
	})

	t.Run("empty aggregates for unknown experiment", func(t *testing.T) {
		agg, err := s.AggregatedMetrics(ctx, "mystery")
		if err != nil {
			t.Fatalf("aggregates: %v", err)
		}
		if len(agg) != 0 {
			t.Errorf("expected empty aggregates, got %v", agg)
		}
	})
}

func TestMemoryStore_Schedules(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	sched := &types.Schedule{ExperimentID: "exp-1", Cron: "0 9 * * *", Enabled: true}
	if err := s.PutSchedule(ctx, sched); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetSchedule(ctx, "exp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cron != "0 9 * * *" || !got.Enabled {
		t.Errorf("schedule = %+v", got)
	}

	if _, err := s.GetSchedule(ctx, "nope"); err != ErrScheduleNotFound {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}

	all, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d schedules, want 1", len(all))
	}
}

func TestMemoryStore_Tools(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	meta := &types.ToolMeta{Name: "cold_email_sender"}
	if err := s.PutTool(ctx, meta); err != nil {
		t.Fatalf("put: %v", err)
	}
	if meta.State != types.ToolStateBuilding {
		t.Errorf("default state = %q, want building", meta.State)
	}

	if err := s.SetToolState(ctx, "cold_email_sender", types.ToolStateActive); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, err := s.GetTool(ctx, "cold_email_sender")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.ToolStateActive {
		t.Errorf("State = %q, want active", got.State)
	}

	if _, err := s.GetTool(ctx, "nope"); err != ErrToolNotFound {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}
