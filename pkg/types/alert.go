package types

import "time"

// AlertKind categorizes alerts for cooldown keying.
type AlertKind string

const (
	AlertKindSuccessThreshold AlertKind = "success_threshold"
	AlertKindFailureThreshold AlertKind = "failure_threshold"
	AlertKindError            AlertKind = "error"
	AlertKindAnomaly          AlertKind = "anomaly"
	AlertKindPeriodicSummary  AlertKind = "periodic_summary"
)

// Alert is a notification published toward the coordinator when a threshold
// holds or an error event arrives. Alerts of the same (experiment, kind) are
// suppressed inside the cooldown window.
type Alert struct {
	ID           string         `json:"id,omitempty"`
	Kind         AlertKind      `json:"type"`
	ExperimentID string         `json:"experiment_id"`
	Criterion    string         `json:"criterion,omitempty"`
	Message      string         `json:"message"`
	Severity     string         `json:"severity,omitempty"`
	Source       string         `json:"source,omitempty"`
	Current      map[string]any `json:"current_value,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Validate checks the alert identity.
func (a *Alert) Validate() error {
	if a.ExperimentID == "" {
		return ErrMissingID
	}
	return nil
}
