package types

import (
	"encoding/json"
	"time"
)

// MetricEvent is one entry in an experiment's append-only metric stream.
// Beyond the identity, event name, and timestamp, the payload is a flexible
// bag: numeric values feed the aggregator, anything else is retained as-is.
type MetricEvent struct {
	ExperimentID string         `json:"experiment_id"`
	Event        string         `json:"event"`
	Message      string         `json:"message,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
	Values       map[string]any `json:"-"`
}

// Validate checks the metric event identity.
func (m *MetricEvent) Validate() error {
	if m.ExperimentID == "" {
		return ErrMissingID
	}
	return nil
}

var metricEventFields = map[string]bool{
	"experiment_id": true, "event": true, "message": true,
	"timestamp": true, "received_at": true,
}

// UnmarshalJSON decodes a metric event, collecting all non-reserved fields
// into Values.
func (m *MetricEvent) UnmarshalJSON(data []byte) error {
	type alias MetricEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, v := range raw {
		if metricEventFields[name] {
			continue
		}
		if a.Values == nil {
			a.Values = make(map[string]any)
		}
		a.Values[name] = v
	}

	*m = MetricEvent(a)
	return nil
}

// MarshalJSON encodes a metric event with its value bag inlined.
func (m MetricEvent) MarshalJSON() ([]byte, error) {
	type alias MetricEvent
	base, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Values) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for name, v := range m.Values {
		if metricEventFields[name] {
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			continue
		}
		merged[name] = val
	}
	return json.Marshal(merged)
}

// NumericValues returns the numeric subset of the value bag. JSON numbers
// arrive as float64; integers from in-process producers are converted.
func (m *MetricEvent) NumericValues() map[string]float64 {
	out := make(map[string]float64)
	for name, v := range m.Values {
		switch n := v.(type) {
		case float64:
			out[name] = n
		case int:
			out[name] = float64(n)
		case int64:
			out[name] = float64(n)
		}
	}
	return out
}
