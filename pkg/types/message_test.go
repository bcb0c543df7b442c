package types

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope(MsgTypeRunTrigger, "coordinator", map[string]any{
		"experiment_id": "exp-1",
		"priority":      "high",
	})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Type != MsgTypeRunTrigger {
		t.Errorf("Type = %q, want %q", got.Type, MsgTypeRunTrigger)
	}
	if got.ID != env.ID {
		t.Errorf("ID = %q, want %q", got.ID, env.ID)
	}
	if got.String("experiment_id") != "exp-1" {
		t.Errorf("experiment_id = %q, want exp-1", got.String("experiment_id"))
	}
}

func TestEnvelopeTolerantDecode(t *testing.T) {
	// Model-produced payload with fields we do not model.
	raw := `{"type":"classification","action":"answer","confidence":0.92,"nested":{"a":1}}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if env.String("action") != "answer" {
		t.Errorf("action = %q", env.String("action"))
	}
	if env.Payload["confidence"] != 0.92 {
		t.Errorf("confidence = %v", env.Payload["confidence"])
	}
}

func TestClassificationNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Classification
		wantAction ClassifierAction
		wantPrio   string
	}{
		{"valid answer", Classification{Action: "answer", Priority: "high"}, ClassifierActionAnswer, "high"},
		{"valid ignore", Classification{Action: "ignore", Priority: "low"}, ClassifierActionIgnore, "low"},
		{"unknown action escalates", Classification{Action: "panic", Priority: "medium"}, ClassifierActionEscalate, "medium"},
		{"empty action escalates", Classification{}, ClassifierActionEscalate, "medium"},
		{"bad priority defaults", Classification{Action: "escalate", Priority: "extreme"}, ClassifierActionEscalate, "medium"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.Normalize()
			if c.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", c.Action, tt.wantAction)
			}
			if c.Priority != tt.wantPrio {
				t.Errorf("Priority = %q, want %q", c.Priority, tt.wantPrio)
			}
		})
	}
}

func TestMetricEventValues(t *testing.T) {
	raw := `{"experiment_id":"exp-1","event":"emails_sent","count":25,"response_rate":0.12,"note":"batch one"}`

	var ev MetricEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	nums := ev.NumericValues()
	if nums["count"] != 25 {
		t.Errorf("count = %v, want 25", nums["count"])
	}
	if nums["response_rate"] != 0.12 {
		t.Errorf("response_rate = %v, want 0.12", nums["response_rate"])
	}
	if _, ok := nums["note"]; ok {
		t.Error("non-numeric field should not appear in NumericValues")
	}
}
