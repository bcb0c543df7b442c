package types

import (
	"fmt"
	"time"
)

// RunStatus is the terminal status of a single execution attempt.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ErrorClass categorizes execution failures for retry decisions.
type ErrorClass string

const (
	// ErrorClassNotFound means the referenced tool or experiment does not
	// exist. Never retried.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTimeout means the tool exceeded its budget. Never retried;
	// always terminal for the run.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassTransient covers connectivity and rate-limit style faults.
	// Retried with bounded exponential backoff.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassRuntime is any other runtime fault. Never retried.
	ErrorClassRuntime ErrorClass = "runtime"
)

// RunRecord is the immutable result of one execution attempt of an
// experiment. Identified by (experiment id, start timestamp); exactly one
// record is written per attempt.
type RunRecord struct {
	ExperimentID string         `json:"experiment_id"`
	StartedAt    time.Time      `json:"started_at"`
	Status       RunStatus      `json:"status"`
	Duration     time.Duration  `json:"duration"`
	ErrorClass   ErrorClass     `json:"error_class,omitempty"`
	Error        string         `json:"error,omitempty"`
	Attempts     int            `json:"attempts"`
	Summary      map[string]any `json:"result_summary,omitempty"`
}

// RunID returns the storage identity "{experiment_id}:{unix_start}".
func (r *RunRecord) RunID() string {
	return fmt.Sprintf("%s:%d", r.ExperimentID, r.StartedAt.Unix())
}

// Validate checks the run identity fields.
func (r *RunRecord) Validate() error {
	if r.ExperimentID == "" {
		return ErrMissingID
	}
	return nil
}

// SummarizeResult reduces an arbitrary tool payload to a storable summary.
// Maps pass through, slices collapse to a count, anything else is
// stringified and truncated.
func SummarizeResult(result any) map[string]any {
	switch v := result.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case []any:
		return map[string]any{"items": len(v), "type": "list"}
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 500 {
			s = s[:500]
		}
		return map[string]any{"value": s}
	}
}
